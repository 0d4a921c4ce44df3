// Package luahook runs hook bodies written in Lua.
//
// Every run gets a fresh gopher-lua state with only the base, table, string
// and math libraries. File, OS, debug and module loading are not available.
// The caller's context is attached to the state, so a deadline or
// cancellation stops the script between instructions.
//
// Scripts fail with a structured error either by calling a host function that
// uses Raise, or with error{code = "...", message = "...", detail = "...",
// hint = "..."}. Any other runtime error becomes a HookError with SQLSTATE
// P0001.
package luahook
