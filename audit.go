package loginhook

import (
	"io"

	"github.com/MrEthical07/loginhook/internal/audit"
)

// AuditEvent is one record per dispatch attempt.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's background dispatcher.
type AuditSink = audit.Sink

// AuditRecord is the JSON line shape written by JSONWriterSink.
type AuditRecord = audit.Record

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func auditEvent(res Result) AuditEvent {
	ev := AuditEvent{
		AttemptID:  res.AttemptID,
		Outcome:    res.Outcome,
		Reason:     res.Reason,
		Scope:      res.Scope,
		Database:   res.Database,
		User:       res.User,
		RolledBack: res.RolledBack,
		Duration:   res.Duration,
	}
	if res.HookError != nil {
		ev.Code = res.HookError.Code
		ev.Message = res.HookError.Message
	}
	return ev
}
