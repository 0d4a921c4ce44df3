// Package internal holds the private building blocks of the login hook engine.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: the dispatch orchestration over the host interfaces
//   - guard: the per-process re-entrancy guard
//   - logging: slog handler construction
//   - scope: transactional scope selection and lifecycle
//
// Nothing here appears in the public loginhook API.
package internal
