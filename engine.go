package loginhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/loginhook/internal/audit"
	"github.com/MrEthical07/loginhook/internal/flows"
	"github.com/MrEthical07/loginhook/internal/guard"
)

// Engine dispatches the login hook for session-start events of one host.
// Re-entry is tracked through the context handed to the hook, so only a
// dispatch started from inside a running hook is skipped. Independent
// sessions dispatching concurrently never contend. Methods are safe for
// concurrent use.
type Engine struct {
	config   Config
	host     Host
	guard    *guard.Guard
	flowDeps flows.Deps
	logger   *slog.Logger
	tracer   trace.Tracer
	audit    *audit.Dispatcher
	metrics  *Metrics
	closed   atomic.Bool
}

// Dispatch runs the hook for one session start. The returned error is a
// *LoginBlockedError when the hook failed for an unprivileged caller and the
// session must be terminated. Skips, a missing hook, and failures tolerated
// for superusers return a nil error.
func (e *Engine) Dispatch(ctx context.Context) (Result, error) {
	if e == nil || e.closed.Load() {
		return Result{}, ErrEngineNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	attemptID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, "loginhook.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("loginhook.attempt_id", attemptID),
			attribute.String("loginhook.routine", e.config.Hook.Namespace+"."+e.config.Hook.Routine),
		))
	defer span.End()

	ctx = withAttempt(ctx, attemptID)
	logger := e.logger.With("attempt_id", attemptID)

	deps := e.flowDeps.Dispatch
	deps.Logger = logger
	out := flows.RunDispatch(ctx, deps)

	res := Result{
		AttemptID:  attemptID,
		Outcome:    out.Outcome,
		Reason:     out.Reason,
		Scope:      out.Scope,
		Database:   out.Session.DatabaseName,
		User:       out.Session.User,
		HookError:  out.HookErr,
		RolledBack: out.RolledBack,
		Duration:   time.Since(start),
	}

	err := out.Err
	if err != nil && out.Reason == SkipContextUnavailable {
		err = fmt.Errorf("%w: %w", ErrSessionContext, err)
	}

	e.metrics.record(res)
	e.emitAudit(ctx, res)
	e.annotateSpan(span, res, err)

	logger.Debug("login hook attempt finished",
		"outcome", res.Outcome.String(),
		"reason", res.Reason.String(),
		"scope", res.Scope.String(),
		"duration", res.Duration)

	return res, err
}

// Executing reports whether any hook invocation started by this engine is
// still running. Use ExecutingFrom to ask about one session.
func (e *Engine) Executing() bool {
	if e == nil {
		return false
	}
	return e.guard.Executing()
}

// InFlight returns the number of hook invocations currently running.
func (e *Engine) InFlight() int64 {
	if e == nil {
		return 0
	}
	return e.guard.InFlight()
}

// Version returns the library version.
func (e *Engine) Version() string {
	return version
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Close flushes pending audit events. Dispatch fails with ErrEngineNotReady
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the dispatch metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) emitAudit(ctx context.Context, res Result) {
	if e.audit == nil {
		return
	}
	ev := auditEvent(res)
	ev.Timestamp = time.Now().UTC()
	e.audit.Emit(context.WithoutCancel(ctx), ev)
}

func (e *Engine) annotateSpan(span trace.Span, res Result, err error) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("loginhook.outcome", res.Outcome.String()),
		attribute.String("loginhook.scope", res.Scope.String()),
		attribute.String("db.namespace", res.Database),
	)
	if res.Reason != SkipNone {
		span.SetAttributes(attribute.String("loginhook.skip_reason", res.Reason.String()))
	}
	if res.HookError != nil {
		span.SetAttributes(attribute.String("db.response.status_code", res.HookError.Code))
		span.RecordError(res.HookError)
	}
	switch {
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
	case res.Outcome == OutcomeDegraded:
		span.SetStatus(codes.Error, "login hook failed for superuser")
	default:
		span.SetStatus(codes.Ok, "")
	}
}
