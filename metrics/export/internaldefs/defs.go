package internaldefs

import (
	"github.com/MrEthical07/loginhook"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   loginhook.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   loginhook.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "loginhook_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: loginhook.MetricDispatchTotal, Name: "loginhook_dispatch_total", Help: "Session-start events seen by the dispatcher."},
	{ID: loginhook.MetricDispatchSkipped, Name: "loginhook_dispatch_skipped_total", Help: "Dispatches skipped before hook resolution."},
	{ID: loginhook.MetricDispatchReentrant, Name: "loginhook_dispatch_reentrant_total", Help: "Nested dispatches ignored while the hook was executing."},
	{ID: loginhook.MetricNamespaceAbsent, Name: "loginhook_namespace_absent_total", Help: "Dispatches where the hook namespace did not exist."},
	{ID: loginhook.MetricHookAbsent, Name: "loginhook_hook_absent_total", Help: "Dispatches where the namespace existed without the hook routine."},
	{ID: loginhook.MetricHookSucceeded, Name: "loginhook_hook_succeeded_total", Help: "Hook invocations that completed and committed."},
	{ID: loginhook.MetricHookDegraded, Name: "loginhook_hook_degraded_total", Help: "Hook failures tolerated for superusers."},
	{ID: loginhook.MetricHookBlocked, Name: "loginhook_hook_blocked_total", Help: "Hook failures that terminated an unprivileged session."},
	{ID: loginhook.MetricScopeRollback, Name: "loginhook_scope_rollback_total", Help: "Hook transaction scopes rolled back after a failure."},
	{ID: loginhook.MetricContextUnavailable, Name: "loginhook_context_unavailable_total", Help: "Dispatches where the session context could not be read."},
}

var HistogramDefs = []HistogramDef{
	{ID: loginhook.MetricDispatchLatency, Name: "loginhook_dispatch_latency_seconds", Help: "Dispatch latency histogram."},
}

// HistogramBounds are the upper bounds of the engine latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
