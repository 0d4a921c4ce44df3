// Package loginhook runs a user-defined routine every time a session starts.
//
// An embedding server implements [Host] and calls [Engine.Dispatch] once per
// session start. The engine decides whether the hook may run (background and
// parallel workers, replicas in recovery, sessions without a database and
// databases with an active login event trigger are skipped), guards against
// re-entrant dispatch, wraps the call in a transaction scope, resolves
// login_hook.login() fresh on every attempt, and escalates failures: a
// superuser keeps the session with a warning, anyone else gets a
// [*LoginBlockedError].
//
// # Architecture boundaries
//
// loginhook is the public surface: [Engine], [Builder], [Config], [Result] and
// the audit and metrics types. Host contracts live in package host, which
// imports nothing from this module. Flow orchestration lives under
// internal/flows and must not import loginhook.
//
// # What this package must NOT do
//
//   - Cache hook resolution across attempts.
//   - Retry a failed hook.
//   - Roll back a transaction it did not open.
package loginhook
