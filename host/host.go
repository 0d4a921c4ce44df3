package host

import "context"

// ProcessRole classifies the process a session-start event happens in.
type ProcessRole uint8

const (
	// RoleSession is an ordinary client backend.
	RoleSession ProcessRole = iota
	// RoleBackgroundWorker is a background worker process.
	RoleBackgroundWorker
	// RoleParallelWorker is a parallel query worker.
	RoleParallelWorker
)

func (r ProcessRole) String() string {
	switch r {
	case RoleSession:
		return "session"
	case RoleBackgroundWorker:
		return "background_worker"
	case RoleParallelWorker:
		return "parallel_worker"
	default:
		return "unknown"
	}
}

// SessionContext is a read-only snapshot of the session being initialized.
// It is taken once per dispatch attempt.
type SessionContext struct {
	Role ProcessRole
	// InRecovery reports that the server is a replica replaying from a primary.
	InRecovery bool
	// EventTriggerActive reports that a login event trigger already covers
	// this database.
	EventTriggerActive bool
	// DatabaseID is empty when no database is selected, e.g. a replication
	// connection.
	DatabaseID   string
	DatabaseName string
	User         string
	// Superuser is a hint filled by hosts that learn privileges at
	// authentication time. The dispatcher still asks the PrivilegeChecker.
	Superuser bool
}

// HasDatabase reports whether a database is attached to the session.
func (s SessionContext) HasDatabase() bool {
	return s.DatabaseID != ""
}

// Capabilities are resolved once per host and select version-dependent
// behavior in the dispatcher.
type Capabilities struct {
	// SubTransactions enables a nested sub-transaction when the session is
	// already inside a transaction.
	SubTransactions bool
	// RecoveryCheck enables skipping the hook while the server is in recovery.
	RecoveryCheck bool
	// EventTriggers enables skipping the hook when a login event trigger is
	// active for the database.
	EventTriggers bool
}

// NamespaceID identifies a resolved namespace.
type NamespaceID string

// RoutineID identifies a resolved zero-argument routine.
type RoutineID string

// SessionInspector reports the process context of the current session.
type SessionInspector interface {
	Snapshot(ctx context.Context) (SessionContext, error)
	Capabilities() Capabilities
}

// TxController exposes the host's transaction primitives.
type TxController interface {
	InTransaction(ctx context.Context) bool

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	BeginSub(ctx context.Context) error
	ReleaseSub(ctx context.Context) error
	RollbackSub(ctx context.Context) error

	PushSnapshot(ctx context.Context) error
	PopSnapshot(ctx context.Context) error
}

// Catalog resolves names. A missing namespace or routine is reported with
// ok=false and a nil error.
type Catalog interface {
	LookupNamespace(ctx context.Context, name string) (id NamespaceID, ok bool, err error)
	LookupRoutine(ctx context.Context, ns NamespaceID, name string) (id RoutineID, ok bool, err error)
}

// RoutineInvoker calls a resolved routine with no arguments and no result.
type RoutineInvoker interface {
	Invoke(ctx context.Context, id RoutineID) error
}

// PrivilegeChecker answers whether the session's user is a superuser.
type PrivilegeChecker interface {
	IsSuperuser(ctx context.Context, sess SessionContext) (bool, error)
}

// Host is everything the dispatcher consumes from the embedding server.
type Host interface {
	SessionInspector
	TxController
	Catalog
	RoutineInvoker
	PrivilegeChecker
}
