// Package scope opens and closes the transactional scope around one hook
// invocation.
//
// # Strategies
//
//   - [StrategyTransaction] starts a transaction when none is active and
//     otherwise runs inside the caller's transaction without a scope of its own.
//   - [StrategySubTransaction] additionally opens a nested sub-transaction when
//     the caller already has one, so a failing hook can be undone alone.
//
// # What this package must NOT do
//
//   - Commit, roll back, or release anything it did not open.
//   - Leave a [Handle] open: every Open is paired with exactly one close.
package scope
