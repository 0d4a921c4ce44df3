package flows

import (
	"context"
	"log/slog"

	"github.com/MrEthical07/loginhook/host"
)

// Escalation is the session-level outcome of a hook failure.
type Escalation struct {
	Outcome Outcome
	Err     error
}

// Escalate decides what a hook failure means for the session. Superusers get a
// warning and keep their session so they can repair a broken hook; everyone
// else is blocked. A failing privilege check counts as unprivileged.
func Escalate(ctx context.Context, checker host.PrivilegeChecker, logger *slog.Logger, sess host.SessionContext, herr *host.HookError, blocked func(*host.HookError) error) Escalation {
	superuser, err := checker.IsSuperuser(ctx, sess)
	if err != nil {
		logger.Warn("login hook could not determine caller privileges; treating caller as unprivileged",
			"error", err)
		superuser = false
	}

	if superuser {
		logger.Warn("login hook failed; session continues because the caller is a superuser",
			"code", herr.Code,
			"error", herr.Message,
			"detail", herr.Detail,
			"hint", herr.Hint)
		return Escalation{Outcome: OutcomeDegraded}
	}

	logger.Error("login hook failed; only superusers can log in now",
		"code", herr.Code,
		"error", herr.Message,
		"detail", herr.Detail)
	if blocked == nil {
		return Escalation{Outcome: OutcomeBlocked, Err: herr}
	}
	return Escalation{Outcome: OutcomeBlocked, Err: blocked(herr)}
}
