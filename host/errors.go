package host

import (
	"errors"
	"strings"
)

// ErrNoTransaction is returned by hosts when a primitive needs an active
// transaction and there is none.
var ErrNoTransaction = errors.New("no transaction in progress")

// HookError is the structured form of a failure raised while the hook runs.
// Code is a five-character SQLSTATE.
type HookError struct {
	Code      string
	Message   string
	Detail    string
	Hint      string
	Namespace string
	Routine   string
	Cause     error
}

// NewHookError returns a HookError with the given code and message.
func NewHookError(code, message string) *HookError {
	return &HookError{Code: code, Message: message}
}

func (e *HookError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Namespace != "" || e.Routine != "" {
		b.WriteString(e.Namespace)
		b.WriteByte('.')
		b.WriteString(e.Routine)
		b.WriteString("(): ")
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" (SQLSTATE ")
		b.WriteString(e.Code)
		b.WriteByte(')')
	}
	return b.String()
}

func (e *HookError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
