// Package audit implements async event dispatching for login hook attempts.
//
// # Components
//
//   - [Sink]: event consumer interface (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay that either drops or blocks when full.
//   - [Event]: one dispatch attempt, typed with the dispatcher's outcome,
//     skip reason and scope kind. [Event.Record] flattens it to the JSON line
//     shape.
//
// The Engine decides which events to emit. This package only buffers and
// delivers them.
//
// # What this package must NOT do
//
//   - Filter events by dispatch outcome.
//   - Import loginhook. Only the flows and scope value types are used.
package audit
