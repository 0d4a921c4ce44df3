package flows

import (
	"log/slog"
	"time"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/internal/guard"
	"github.com/MrEthical07/loginhook/internal/scope"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Dispatch DispatchDeps
}

// DispatchDeps captures everything one dispatch attempt consumes.
type DispatchDeps struct {
	Namespace string
	Routine   string
	// Timeout bounds the hook invocation. Zero means no bound.
	Timeout  time.Duration
	Strategy scope.Strategy

	Host   host.Host
	Guard  *guard.Guard
	Logger *slog.Logger

	// Blocked builds the session-level error for an unprivileged failure.
	Blocked func(*host.HookError) error
}

func (d DispatchDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}
