// Package host defines the contract between the login hook dispatcher and the
// server that embeds it.
//
// The dispatcher never classifies processes, manages transactions, looks up
// routines, or checks privileges on its own. Each of those concerns is a narrow
// interface here, and a server integration implements all of them as a [Host].
//
// # Architecture boundaries
//
// This package owns only types and interfaces. Concrete hosts live in
// sub-packages (memhost, redishost) or in the embedding server.
//
// # What this package must NOT do
//
//   - Import loginhook or any internal package.
//   - Perform I/O.
package host
