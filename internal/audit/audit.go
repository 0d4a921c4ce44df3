package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/loginhook/internal/flows"
	"github.com/MrEthical07/loginhook/internal/scope"
)

const typePrefix = "login_hook."

// Event is the audit record of one dispatch attempt.
type Event struct {
	Timestamp  time.Time
	AttemptID  string
	Outcome    flows.Outcome
	Reason     flows.SkipReason
	Scope      scope.Kind
	Database   string
	User       string
	Code       string
	Message    string
	RolledBack bool
	Duration   time.Duration
}

// Type names the event, "login_hook.<outcome>". A missing routine is
// "login_hook.absent".
func (e Event) Type() string {
	if e.Outcome == flows.OutcomeHookAbsent {
		return typePrefix + "absent"
	}
	return typePrefix + e.Outcome.String()
}

// Allowed reports whether the session was let through.
func (e Event) Allowed() bool {
	return e.Outcome != flows.OutcomeBlocked
}

// Record is the JSON line written by JSONWriterSink.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	AttemptID  string    `json:"attempt_id"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Scope      string    `json:"scope"`
	Database   string    `json:"database,omitempty"`
	User       string    `json:"user,omitempty"`
	Allowed    bool      `json:"allowed"`
	Code       string    `json:"sqlstate,omitempty"`
	Message    string    `json:"message,omitempty"`
	RolledBack bool      `json:"rolled_back,omitempty"`
	DurationMS float64   `json:"duration_ms"`
}

// Record flattens e for serialization.
func (e Event) Record() Record {
	r := Record{
		Timestamp:  e.Timestamp,
		Event:      e.Type(),
		AttemptID:  e.AttemptID,
		Outcome:    e.Outcome.String(),
		Scope:      e.Scope.String(),
		Database:   e.Database,
		User:       e.User,
		Allowed:    e.Allowed(),
		Code:       e.Code,
		Message:    e.Message,
		RolledBack: e.RolledBack,
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
	}
	if e.Reason != flows.SkipNone {
		r.Reason = e.Reason.String()
	}
	return r
}

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer over a buffered channel. Emit waits
// for room until ctx ends.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events is the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one Record per line.
type JSONWriterSink struct {
	mu       sync.Mutex
	enc      *json.Encoder
	failures atomic.Uint64
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		w = io.Discard
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event.Record()); err != nil {
		s.failures.Add(1)
	}
}

// Failures returns how many records could not be written.
func (s *JSONWriterSink) Failures() uint64 {
	if s == nil {
		return 0
	}
	return s.failures.Load()
}
