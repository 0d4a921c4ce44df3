package flows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/loginhook/host"
)

// Resolution is the outcome of looking up the hook. NamespacePresent without
// Found means the namespace exists but the routine does not.
type Resolution struct {
	NamespacePresent bool
	Found            bool
	Routine          host.RoutineID
}

// Resolve looks up the zero-argument routine in namespace. Missing names are
// ordinary outcomes; only catalog failures return an error.
func Resolve(ctx context.Context, catalog host.Catalog, logger *slog.Logger, sess host.SessionContext, namespace, routine string) (Resolution, error) {
	nsID, ok, err := catalog.LookupNamespace(ctx, namespace)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup namespace %q: %w", namespace, err)
	}
	if !ok {
		logger.Debug("login hook will not execute anything because the namespace does not exist",
			"namespace", namespace)
		return Resolution{}, nil
	}

	id, ok, err := catalog.LookupRoutine(ctx, nsID, routine)
	if err != nil {
		return Resolution{NamespacePresent: true}, fmt.Errorf("lookup routine %s.%s(): %w", namespace, routine, err)
	}
	if !ok {
		logger.Warn(fmt.Sprintf("Function %s.%s() is not invoked because it does not exist in database %s",
			namespace, routine, databaseLabel(sess)))
		return Resolution{NamespacePresent: true}, nil
	}

	return Resolution{NamespacePresent: true, Found: true, Routine: id}, nil
}

func databaseLabel(sess host.SessionContext) string {
	if sess.DatabaseName != "" {
		return sess.DatabaseName
	}
	return sess.DatabaseID
}
