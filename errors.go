package loginhook

import (
	"errors"

	"github.com/jackc/pgerrcode"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/internal/guard"
)

var (
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrHostRequired is returned by Build when no host was supplied.
	ErrHostRequired = errors.New("host required")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrAlreadyExecuting reports a nested dispatch on the same engine.
	ErrAlreadyExecuting = guard.ErrAlreadyExecuting
	// ErrLoginBlocked matches every *LoginBlockedError through errors.Is.
	ErrLoginBlocked = errors.New("login blocked by login hook")
	// ErrSessionContext wraps failures to read the session snapshot.
	ErrSessionContext = errors.New("session context unavailable")
	// ErrInvalidConfig wraps Config.Validate failures.
	ErrInvalidConfig = errors.New("invalid login hook config")
)

// HookError is the structured failure raised while the hook runs.
type HookError = host.HookError

// LoginBlockedError terminates session start for an unprivileged caller after
// the hook failed.
type LoginBlockedError struct {
	Code    string
	Message string
	Hook    *HookError
}

func newLoginBlockedError(herr *HookError) *LoginBlockedError {
	return &LoginBlockedError{
		Code:    pgerrcode.InvalidAuthorizationSpecification,
		Message: "login_hook.login() failed; only superusers can log in now",
		Hook:    herr,
	}
}

func (e *LoginBlockedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message + " (SQLSTATE " + e.Code + ")"
	if e.Hook != nil {
		msg += ": " + e.Hook.Error()
	}
	return msg
}

// Unwrap exposes both ErrLoginBlocked and the hook failure.
func (e *LoginBlockedError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Hook == nil {
		return []error{ErrLoginBlocked}
	}
	return []error{ErrLoginBlocked, e.Hook}
}
