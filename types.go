package loginhook

import (
	"time"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/internal/flows"
	"github.com/MrEthical07/loginhook/internal/scope"
)

// Outcome is the terminal state of one dispatch attempt.
type Outcome = flows.Outcome

const (
	OutcomeSkipped    = flows.OutcomeSkipped
	OutcomeHookAbsent = flows.OutcomeHookAbsent
	OutcomeSucceeded  = flows.OutcomeSucceeded
	OutcomeDegraded   = flows.OutcomeDegraded
	OutcomeBlocked    = flows.OutcomeBlocked
)

// SkipReason says why the hook was not invoked. It is SkipNone unless the
// outcome is OutcomeSkipped.
type SkipReason = flows.SkipReason

const (
	SkipNone               = flows.SkipNone
	SkipContextUnavailable = flows.SkipContextUnavailable
	SkipEventTrigger       = flows.SkipEventTrigger
	SkipNoDatabase         = flows.SkipNoDatabase
	SkipBackgroundWorker   = flows.SkipBackgroundWorker
	SkipParallelWorker     = flows.SkipParallelWorker
	SkipRecovery           = flows.SkipRecovery
	SkipReentrant          = flows.SkipReentrant
	SkipNamespaceAbsent    = flows.SkipNamespaceAbsent
)

// ScopeKind reports which transaction scope the attempt opened.
type ScopeKind = scope.Kind

const (
	ScopeNone           = scope.KindNone
	ScopeTransaction    = scope.KindTransaction
	ScopeSubTransaction = scope.KindSubTransaction
)

// Host is the set of primitives an embedding server supplies.
type Host = host.Host

// SessionContext is the per-attempt snapshot of the session.
type SessionContext = host.SessionContext

// Result describes one dispatch attempt.
type Result struct {
	AttemptID string
	Outcome   Outcome
	Reason    SkipReason
	Scope     ScopeKind
	Database  string
	User      string
	// HookError is set for OutcomeDegraded and OutcomeBlocked.
	HookError *HookError
	// RolledBack reports that the hook's own scope was rolled back.
	RolledBack bool
	Duration   time.Duration
}
