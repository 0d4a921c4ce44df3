package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/internal/scope"
)

// Outcome is the terminal state of one dispatch attempt.
type Outcome uint8

const (
	OutcomeSkipped Outcome = iota
	OutcomeHookAbsent
	OutcomeSucceeded
	OutcomeDegraded
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeHookAbsent:
		return "hook_absent"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// DispatchResult reports how an attempt ended. Err is set for a blocked login
// and when the session context could not be read.
type DispatchResult struct {
	Outcome    Outcome
	Reason     SkipReason
	Scope      scope.Kind
	Session    host.SessionContext
	HookErr    *host.HookError
	RolledBack bool
	Err        error
}

// RunDispatch runs one session-start event through the dispatcher.
func RunDispatch(ctx context.Context, deps DispatchDeps) DispatchResult {
	logger := deps.logger()
	h := deps.Host

	sess, err := h.Snapshot(ctx)
	if err != nil {
		logger.Debug("login hook could not read the session context", "error", err)
		return DispatchResult{
			Outcome: OutcomeSkipped,
			Reason:  SkipContextUnavailable,
			Err:     fmt.Errorf("session context: %w", err),
		}
	}
	logger = logger.With("database", databaseLabel(sess), "user", sess.User)
	logger.Debug("login hook dispatch",
		"database_id", sess.DatabaseID,
		"role", sess.Role.String(),
		"in_recovery", sess.InRecovery,
		"event_trigger_active", sess.EventTriggerActive)

	if d := Classify(sess, h.Capabilities()); !d.Proceed {
		logger.Debug("login hook did not do anything", "reason", d.Reason.String())
		return DispatchResult{Outcome: OutcomeSkipped, Reason: d.Reason, Session: sess}
	}

	ctx, token, err := deps.Guard.Enter(ctx)
	if err != nil {
		logger.Debug("login hook is already executing; nested dispatch ignored")
		return DispatchResult{Outcome: OutcomeSkipped, Reason: SkipReentrant, Session: sess}
	}
	defer token.Release()

	res := DispatchResult{Session: sess}

	handle, err := scope.NewManager(h, deps.Strategy).Open(ctx)
	if err != nil {
		return fail(ctx, deps, logger, res, nil, &host.HookError{
			Code:      pgerrcode.InvalidTransactionState,
			Message:   "could not open a transaction scope for the login hook",
			Detail:    err.Error(),
			Namespace: deps.Namespace,
			Routine:   deps.Routine,
			Cause:     err,
		})
	}
	res.Scope = handle.Kind()

	resolution, err := Resolve(ctx, h, logger, sess, deps.Namespace, deps.Routine)
	if err != nil {
		return fail(ctx, deps, logger, res, handle, &host.HookError{
			Code:      pgerrcode.InternalError,
			Message:   "could not resolve the login hook",
			Detail:    err.Error(),
			Namespace: deps.Namespace,
			Routine:   deps.Routine,
			Cause:     err,
		})
	}

	if !resolution.Found {
		if err := handle.CloseCommit(ctx); err != nil {
			return fail(ctx, deps, logger, res, handle, commitError(deps, err))
		}
		if resolution.NamespacePresent {
			res.Outcome = OutcomeHookAbsent
		} else {
			res.Outcome = OutcomeSkipped
			res.Reason = SkipNamespaceAbsent
		}
		return res
	}

	qualified := deps.Namespace + "." + deps.Routine + "()"
	logger.Debug("login hook will execute " + qualified)
	if herr := Invoke(ctx, h, resolution.Routine, deps.Namespace, deps.Routine, deps.Timeout); herr != nil {
		return fail(ctx, deps, logger, res, handle, herr)
	}
	logger.Debug("login hook is back from " + qualified)

	if err := handle.CloseCommit(ctx); err != nil {
		return fail(ctx, deps, logger, res, handle, commitError(deps, err))
	}
	res.Outcome = OutcomeSucceeded
	return res
}

// fail rolls back the scope if it is still open and escalates herr.
func fail(ctx context.Context, deps DispatchDeps, logger *slog.Logger, res DispatchResult, handle *scope.Handle, herr *host.HookError) DispatchResult {
	res.HookErr = herr
	if handle != nil && !handle.Closed() {
		if err := handle.CloseRollback(ctx); err != nil {
			logger.Error("login hook could not roll back its transaction scope", "error", err)
		}
	}
	res.RolledBack = handle.RolledBack()

	esc := Escalate(ctx, deps.Host, logger, res.Session, herr, deps.Blocked)
	res.Outcome = esc.Outcome
	res.Err = esc.Err
	return res
}

func commitError(deps DispatchDeps, err error) *host.HookError {
	code := pgerrcode.InvalidTransactionState
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = pgerrcode.QueryCanceled
	}
	return &host.HookError{
		Code:      code,
		Message:   "could not commit the login hook transaction scope",
		Detail:    err.Error(),
		Namespace: deps.Namespace,
		Routine:   deps.Routine,
		Cause:     err,
	}
}
