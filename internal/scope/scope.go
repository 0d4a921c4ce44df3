package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/loginhook/host"
)

var (
	// ErrScope wraps failures of the host transaction primitives.
	ErrScope = errors.New("transaction scope failure")
	// ErrClosed is returned when a Handle is closed twice.
	ErrClosed = errors.New("transaction scope already closed")
)

// Strategy selects how a scope is opened inside an active transaction.
type Strategy uint8

const (
	// StrategyTransaction never nests.
	StrategyTransaction Strategy = iota
	// StrategySubTransaction nests with a sub-transaction.
	StrategySubTransaction
)

func (s Strategy) String() string {
	switch s {
	case StrategyTransaction:
		return "transaction"
	case StrategySubTransaction:
		return "subtransaction"
	default:
		return "unknown"
	}
}

// SelectStrategy picks the strategy the host can support.
func SelectStrategy(caps host.Capabilities) Strategy {
	if caps.SubTransactions {
		return StrategySubTransaction
	}
	return StrategyTransaction
}

// Kind is what a Handle owns.
type Kind uint8

const (
	// KindNone means the scope runs inside the caller's transaction.
	KindNone Kind = iota
	// KindTransaction means the scope started a full transaction.
	KindTransaction
	// KindSubTransaction means the scope opened a nested sub-transaction.
	KindSubTransaction
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransaction:
		return "transaction"
	case KindSubTransaction:
		return "subtransaction"
	default:
		return "unknown"
	}
}

// Manager opens scopes on a host.
type Manager struct {
	tx       host.TxController
	strategy Strategy
}

// NewManager returns a Manager using tx and strategy.
func NewManager(tx host.TxController, strategy Strategy) *Manager {
	return &Manager{tx: tx, strategy: strategy}
}

// Handle is one open scope.
type Handle struct {
	m          *Manager
	kind       Kind
	snapshot   bool
	closed     bool
	rolledBack bool
}

// Open starts a scope and pushes a snapshot inside it. On failure nothing is
// left open.
func (m *Manager) Open(ctx context.Context) (*Handle, error) {
	h := &Handle{m: m, kind: KindNone}

	switch {
	case !m.tx.InTransaction(ctx):
		if err := m.tx.Begin(ctx); err != nil {
			return nil, fmt.Errorf("%w: begin: %w", ErrScope, err)
		}
		h.kind = KindTransaction
	case m.strategy == StrategySubTransaction:
		if err := m.tx.BeginSub(ctx); err != nil {
			return nil, fmt.Errorf("%w: begin sub-transaction: %w", ErrScope, err)
		}
		h.kind = KindSubTransaction
	}

	if err := m.tx.PushSnapshot(ctx); err != nil {
		pushErr := fmt.Errorf("%w: push snapshot: %w", ErrScope, err)
		if undoErr := h.undo(ctx); undoErr != nil {
			return nil, errors.Join(pushErr, undoErr)
		}
		return nil, pushErr
	}
	h.snapshot = true
	return h, nil
}

// Kind reports what the handle owns.
func (h *Handle) Kind() Kind {
	if h == nil {
		return KindNone
	}
	return h.kind
}

// RolledBack reports whether the handle undid a transaction or
// sub-transaction it owned, either on CloseRollback or after a failed commit.
func (h *Handle) RolledBack() bool {
	return h != nil && h.rolledBack
}

// Closed reports whether CloseCommit or CloseRollback already ran.
func (h *Handle) Closed() bool {
	return h == nil || h.closed
}

// CloseCommit pops the snapshot and commits or releases what the handle owns.
func (h *Handle) CloseCommit(ctx context.Context) error {
	if h.Closed() {
		return ErrClosed
	}
	h.closed = true

	var errs []error
	if err := h.popSnapshot(ctx); err != nil {
		errs = append(errs, err)
	}

	var err error
	switch h.kind {
	case KindTransaction:
		if err = h.m.tx.Commit(ctx); err != nil {
			err = fmt.Errorf("%w: commit: %w", ErrScope, err)
		}
	case KindSubTransaction:
		if err = h.m.tx.ReleaseSub(ctx); err != nil {
			err = fmt.Errorf("%w: release sub-transaction: %w", ErrScope, err)
		}
	}
	if err != nil {
		// A scope that failed to commit must not stay open in the host.
		errs = append(errs, err)
		if undoErr := h.undo(ctx); undoErr != nil {
			errs = append(errs, undoErr)
		}
	}
	return errors.Join(errs...)
}

// CloseRollback pops the snapshot and rolls back what the handle owns.
func (h *Handle) CloseRollback(ctx context.Context) error {
	if h.Closed() {
		return ErrClosed
	}
	h.closed = true

	var errs []error
	if err := h.popSnapshot(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := h.undo(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Handle) popSnapshot(ctx context.Context) error {
	if !h.snapshot {
		return nil
	}
	h.snapshot = false
	if err := h.m.tx.PopSnapshot(ctx); err != nil {
		return fmt.Errorf("%w: pop snapshot: %w", ErrScope, err)
	}
	return nil
}

func (h *Handle) undo(ctx context.Context) error {
	switch h.kind {
	case KindTransaction:
		if err := h.m.tx.Rollback(ctx); err != nil {
			return fmt.Errorf("%w: rollback: %w", ErrScope, err)
		}
	case KindSubTransaction:
		if err := h.m.tx.RollbackSub(ctx); err != nil {
			return fmt.Errorf("%w: rollback sub-transaction: %w", ErrScope, err)
		}
	default:
		return nil
	}
	h.rolledBack = true
	return nil
}
