package loginhook

import (
	"context"

	"github.com/MrEthical07/loginhook/internal/guard"
)

type attemptIDContextKey struct{}

func withAttempt(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDContextKey{}, id)
}

// ExecutingFrom reports whether ctx was handed out by a hook invocation that
// is still running. Contexts that did not come from Engine.Dispatch, and
// contexts of invocations that have returned, report false.
func ExecutingFrom(ctx context.Context) bool {
	return guard.Active(ctx)
}

// AttemptIDFromContext returns the attempt ID assigned by Engine.Dispatch.
func AttemptIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(attemptIDContextKey{}).(string)
	return id, id != ""
}
