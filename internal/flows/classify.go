package flows

import "github.com/MrEthical07/loginhook/host"

// SkipReason says why a dispatch attempt did not invoke the hook.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	SkipContextUnavailable
	SkipEventTrigger
	SkipNoDatabase
	SkipBackgroundWorker
	SkipParallelWorker
	SkipRecovery
	SkipReentrant
	SkipNamespaceAbsent
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return ""
	case SkipContextUnavailable:
		return "context_unavailable"
	case SkipEventTrigger:
		return "event_trigger_active"
	case SkipNoDatabase:
		return "no_database"
	case SkipBackgroundWorker:
		return "background_worker"
	case SkipParallelWorker:
		return "parallel_worker"
	case SkipRecovery:
		return "in_recovery"
	case SkipReentrant:
		return "reentrant"
	case SkipNamespaceAbsent:
		return "namespace_absent"
	default:
		return "unknown"
	}
}

// Decision is the classifier's verdict.
type Decision struct {
	Proceed bool
	Reason  SkipReason
}

// Classify decides whether the hook may run for sess. Checks run cheapest and
// most certain first; the first match wins.
func Classify(sess host.SessionContext, caps host.Capabilities) Decision {
	switch {
	case caps.EventTriggers && sess.EventTriggerActive:
		return Decision{Reason: SkipEventTrigger}
	case !sess.HasDatabase():
		return Decision{Reason: SkipNoDatabase}
	case sess.Role == host.RoleBackgroundWorker:
		return Decision{Reason: SkipBackgroundWorker}
	case sess.Role == host.RoleParallelWorker:
		return Decision{Reason: SkipParallelWorker}
	case caps.RecoveryCheck && sess.InRecovery:
		return Decision{Reason: SkipRecovery}
	}
	return Decision{Proceed: true}
}
