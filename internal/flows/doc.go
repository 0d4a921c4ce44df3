// Package flows contains the login hook dispatch orchestration.
//
// [RunDispatch] walks one session-start event through classification, the
// re-entrancy guard, the transactional scope, hook resolution, invocation, and
// failure escalation. Each step lives in its own file as a pure function over
// the host interfaces so it can be tested with an in-memory host.
//
// # Architecture boundaries
//
// Flow functions coordinate the host, the guard, and the scope manager. They do
// NOT own any of these resources: the Engine does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import loginhook (to avoid import cycles).
//   - Cache resolutions: the hook may be created, dropped, or replaced between
//     sessions.
package flows
