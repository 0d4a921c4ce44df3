// Package memhost is an in-memory [host.Host] for tests and for embedding the
// dispatcher in servers that keep their catalog in process.
//
// Routines are Go functions registered by namespace and name. Every call to a
// transaction primitive is appended to a journal so callers can assert the
// exact sequence the dispatcher produced.
package memhost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/loginhook/host"
)

var (
	ErrTransactionActive = errors.New("transaction already in progress")
	ErrNoSubTransaction  = errors.New("no sub-transaction in progress")
	ErrNoSnapshot        = errors.New("no active snapshot")
	ErrRoutineNotFound   = errors.New("routine not found")
)

// Routine is a registered hook body.
type Routine func(ctx context.Context) error

// Journal entries.
const (
	OpBegin        = "begin"
	OpCommit       = "commit"
	OpRollback     = "rollback"
	OpBeginSub     = "begin_sub"
	OpReleaseSub   = "release_sub"
	OpRollbackSub  = "rollback_sub"
	OpPushSnapshot = "push_snapshot"
	OpPopSnapshot  = "pop_snapshot"
)

// Host keeps session state, transaction state, and the routine catalog in
// memory. It is safe for concurrent use.
type Host struct {
	mu sync.Mutex

	session host.SessionContext
	caps    host.Capabilities

	namespaces map[string]map[string]Routine
	superusers map[string]bool

	inTx      bool
	subDepth  int
	snapshots int
	journal   []string

	namespaceLookups int
	routineLookups   int
	invocations      int

	// Injected failures, keyed by journal op or "snapshot", "lookup", "privilege".
	failures map[string]error
}

// New returns a Host for sess with the given capabilities.
func New(sess host.SessionContext, caps host.Capabilities) *Host {
	return &Host{
		session:    sess,
		caps:       caps,
		namespaces: make(map[string]map[string]Routine),
		superusers: make(map[string]bool),
		failures:   make(map[string]error),
	}
}

// SetSession replaces the session snapshot returned by Snapshot.
func (h *Host) SetSession(sess host.SessionContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = sess
}

// SetCapabilities replaces the capability flags.
func (h *Host) SetCapabilities(caps host.Capabilities) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.caps = caps
}

// CreateNamespace adds an empty namespace. Existing namespaces are kept.
func (h *Host) CreateNamespace(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.namespaces[name]; !ok {
		h.namespaces[name] = make(map[string]Routine)
	}
}

// DropNamespace removes a namespace and its routines.
func (h *Host) DropNamespace(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.namespaces, name)
}

// Register adds or replaces a routine, creating the namespace if needed.
func (h *Host) Register(namespace, name string, fn Routine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	routines, ok := h.namespaces[namespace]
	if !ok {
		routines = make(map[string]Routine)
		h.namespaces[namespace] = routines
	}
	routines[name] = fn
}

// Unregister removes a routine and keeps its namespace.
func (h *Host) Unregister(namespace, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.namespaces[namespace], name)
}

// GrantSuperuser marks user as a superuser for IsSuperuser.
func (h *Host) GrantSuperuser(user string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.superusers[user] = true
}

// FailOn makes the named primitive return err. Pass nil to clear.
// Names are the Op constants plus "snapshot", "lookup", and "privilege".
func (h *Host) FailOn(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failures, op)
		return
	}
	h.failures[op] = err
}

// Journal returns a copy of the transaction primitive calls so far.
func (h *Host) Journal() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.journal))
	copy(out, h.journal)
	return out
}

// ResetJournal clears the journal.
func (h *Host) ResetJournal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.journal = nil
}

// Lookups returns namespace and routine lookup counts.
func (h *Host) Lookups() (namespaces, routines int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.namespaceLookups, h.routineLookups
}

// Invocations returns how many times Invoke reached a routine.
func (h *Host) Invocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invocations
}

// State reports transaction depth: whether a transaction is open, how many
// sub-transactions are nested, and how many snapshots are pushed.
func (h *Host) State() (inTx bool, subDepth, snapshots int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inTx, h.subDepth, h.snapshots
}

func (h *Host) Snapshot(context.Context) (host.SessionContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["snapshot"]; err != nil {
		return host.SessionContext{}, err
	}
	return h.session, nil
}

func (h *Host) Capabilities() host.Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}

func (h *Host) InTransaction(context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inTx
}

func (h *Host) Begin(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpBegin); err != nil {
		return err
	}
	if h.inTx {
		return ErrTransactionActive
	}
	h.inTx = true
	return nil
}

func (h *Host) Commit(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpCommit); err != nil {
		return err
	}
	if !h.inTx {
		return host.ErrNoTransaction
	}
	h.inTx = false
	h.subDepth = 0
	return nil
}

func (h *Host) Rollback(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpRollback); err != nil {
		return err
	}
	if !h.inTx {
		return host.ErrNoTransaction
	}
	h.inTx = false
	h.subDepth = 0
	return nil
}

func (h *Host) BeginSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpBeginSub); err != nil {
		return err
	}
	if !h.inTx {
		return host.ErrNoTransaction
	}
	h.subDepth++
	return nil
}

func (h *Host) ReleaseSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpReleaseSub); err != nil {
		return err
	}
	if h.subDepth == 0 {
		return ErrNoSubTransaction
	}
	h.subDepth--
	return nil
}

func (h *Host) RollbackSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpRollbackSub); err != nil {
		return err
	}
	if h.subDepth == 0 {
		return ErrNoSubTransaction
	}
	h.subDepth--
	return nil
}

func (h *Host) PushSnapshot(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpPushSnapshot); err != nil {
		return err
	}
	if !h.inTx {
		return host.ErrNoTransaction
	}
	h.snapshots++
	return nil
}

func (h *Host) PopSnapshot(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(OpPopSnapshot); err != nil {
		return err
	}
	if h.snapshots == 0 {
		return ErrNoSnapshot
	}
	h.snapshots--
	return nil
}

func (h *Host) LookupNamespace(_ context.Context, name string) (host.NamespaceID, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.namespaceLookups++
	if err := h.failures["lookup"]; err != nil {
		return "", false, err
	}
	if _, ok := h.namespaces[name]; !ok {
		return "", false, nil
	}
	return host.NamespaceID(name), true, nil
}

func (h *Host) LookupRoutine(_ context.Context, ns host.NamespaceID, name string) (host.RoutineID, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routineLookups++
	if err := h.failures["lookup"]; err != nil {
		return "", false, err
	}
	if _, ok := h.namespaces[string(ns)][name]; !ok {
		return "", false, nil
	}
	return routineID(string(ns), name), true, nil
}

// Invoke runs the routine without holding the host lock, so the routine may
// call back into the host.
func (h *Host) Invoke(ctx context.Context, id host.RoutineID) error {
	h.mu.Lock()
	var fn Routine
	for ns, routines := range h.namespaces {
		for name, r := range routines {
			if routineID(ns, name) == id {
				fn = r
			}
		}
	}
	if fn != nil {
		h.invocations++
	}
	h.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("%w: %s", ErrRoutineNotFound, id)
	}
	return fn(ctx)
}

func (h *Host) IsSuperuser(_ context.Context, sess host.SessionContext) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures["privilege"]; err != nil {
		return false, err
	}
	return sess.Superuser || h.superusers[sess.User], nil
}

func (h *Host) record(op string) error {
	h.journal = append(h.journal, op)
	return h.failures[op]
}

var _ host.Host = (*Host)(nil)

func routineID(ns, name string) host.RoutineID {
	return host.RoutineID(ns + "." + name)
}
