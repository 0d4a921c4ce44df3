package redishost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/loginhook"
	"github.com/MrEthical07/loginhook/credential"
	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/luahook"
)

var (
	ErrNoSnapshot      = errors.New("no active snapshot")
	ErrRoutineNotFound = errors.New("routine not found")
)

// Session describes the connection being started.
type Session struct {
	Role         host.ProcessRole
	DatabaseID   string
	DatabaseName string
	User         string
	// Credential is the signed login credential presented by the client. It
	// is only read when Options.Verifier is set.
	Credential string
}

type Options struct {
	Prefix string
	// Capabilities defaults to every capability enabled.
	Capabilities *host.Capabilities
	// Verifier answers privilege checks from the session credential. Without
	// it, or without a credential, the superusers set is consulted.
	Verifier *credential.Manager
	Logger   *slog.Logger
}

// Dispatcher re-enters dispatch for session.connect(). *loginhook.Engine
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context) (loginhook.Result, error)
}

// Host is one backend process. It is safe for concurrent use, but it models
// a single session at a time.
type Host struct {
	redis    redis.UniversalClient
	keys     keyspace
	caps     host.Capabilities
	verifier *credential.Manager
	logger   *slog.Logger

	mu         sync.Mutex
	session    Session
	tx         *txbuf
	snapshots  int
	pinned     map[string]pinnedRead
	notices    []string
	dispatcher Dispatcher
}

var _ host.Host = (*Host)(nil)

func New(client redis.UniversalClient, sess Session, opts Options) *Host {
	caps := host.Capabilities{SubTransactions: true, RecoveryCheck: true, EventTriggers: true}
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Host{
		redis:    client,
		keys:     newKeyspace(opts.Prefix),
		caps:     caps,
		verifier: opts.Verifier,
		logger:   logger,
		session:  sess,
	}
}

// SetSession replaces the session for the next dispatch.
func (h *Host) SetSession(sess Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = sess
	h.notices = nil
}

// SetDispatcher wires session.connect() to d.
func (h *Host) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
}

// Notices returns messages raised with session.notice since the session was
// set.
func (h *Host) Notices() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notices...)
}

// State reports the open transaction depth for tests and diagnostics.
func (h *Host) State() (inTx bool, subDepth, snapshots int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx == nil {
		return false, 0, h.snapshots
	}
	return true, h.tx.depth(), h.snapshots
}

/*
====================================
SESSION INSPECTOR
====================================
*/

func (h *Host) Snapshot(ctx context.Context) (host.SessionContext, error) {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()

	var recovery, trigger *redis.IntCmd
	_, err := h.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		recovery = pipe.Exists(ctx, h.keys.recovery())
		if sess.DatabaseID != "" {
			trigger = pipe.Exists(ctx, h.keys.eventTrigger(sess.DatabaseID))
		}
		return nil
	})
	if err != nil {
		return host.SessionContext{}, fmt.Errorf("read server flags: %w", err)
	}

	out := host.SessionContext{
		Role:         sess.Role,
		InRecovery:   recovery.Val() > 0,
		DatabaseID:   sess.DatabaseID,
		DatabaseName: sess.DatabaseName,
		User:         sess.User,
	}
	if trigger != nil {
		out.EventTriggerActive = trigger.Val() > 0
	}
	return out, nil
}

func (h *Host) Capabilities() host.Capabilities {
	return h.caps
}

/*
====================================
TRANSACTIONS
====================================
*/

func (h *Host) InTransaction(context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tx != nil
}

func (h *Host) Begin(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx != nil {
		return ErrTransactionActive
	}
	h.tx = &txbuf{}
	return nil
}

// Commit applies buffered writes with MULTI/EXEC. When the write fails the
// transaction stays open so the caller can roll it back.
func (h *Host) Commit(ctx context.Context) error {
	h.mu.Lock()
	tx := h.tx
	h.mu.Unlock()
	if tx == nil {
		return host.ErrNoTransaction
	}
	if err := tx.flush(ctx, h.redis); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	h.mu.Lock()
	if h.tx == tx {
		h.tx = nil
	}
	h.mu.Unlock()
	return nil
}

func (h *Host) Rollback(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx == nil {
		return host.ErrNoTransaction
	}
	h.tx = nil
	return nil
}

func (h *Host) BeginSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx == nil {
		return host.ErrNoTransaction
	}
	h.tx.beginSub()
	return nil
}

func (h *Host) ReleaseSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx == nil {
		return host.ErrNoTransaction
	}
	return h.tx.releaseSub()
}

func (h *Host) RollbackSub(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tx == nil {
		return host.ErrNoTransaction
	}
	return h.tx.rollbackSub()
}

// PushSnapshot pins the read view. The first read of each key inside the
// outermost snapshot is remembered and served again until it is popped.
func (h *Host) PushSnapshot(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshots == 0 {
		h.pinned = make(map[string]pinnedRead)
	}
	h.snapshots++
	return nil
}

func (h *Host) PopSnapshot(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshots == 0 {
		return ErrNoSnapshot
	}
	h.snapshots--
	if h.snapshots == 0 {
		h.pinned = nil
	}
	return nil
}

// pinnedRead is one key as first seen inside a snapshot.
type pinnedRead struct {
	value   string
	present bool
}

// readPinned returns the pinned view of key, reading Redis on first use.
func (h *Host) readPinned(ctx context.Context, key string) (string, bool, error) {
	h.mu.Lock()
	if r, ok := h.pinned[key]; ok {
		h.mu.Unlock()
		return r.value, r.present, nil
	}
	h.mu.Unlock()

	v, err := h.redis.Get(ctx, key).Result()
	present := true
	if errors.Is(err, redis.Nil) {
		v, present, err = "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pinned == nil {
		return v, present, nil
	}
	if r, ok := h.pinned[key]; ok {
		return r.value, r.present, nil
	}
	h.pinned[key] = pinnedRead{value: v, present: present}
	return v, present, nil
}

/*
====================================
CATALOG
====================================
*/

func (h *Host) LookupNamespace(ctx context.Context, name string) (host.NamespaceID, bool, error) {
	ok, err := h.redis.SIsMember(ctx, h.keys.namespaces(), name).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return host.NamespaceID(name), true, nil
}

func (h *Host) LookupRoutine(ctx context.Context, ns host.NamespaceID, name string) (host.RoutineID, bool, error) {
	ok, err := h.redis.HExists(ctx, h.keys.namespace(string(ns)), name).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return host.RoutineID(string(ns) + "." + name), true, nil
}

/*
====================================
INVOCATION
====================================
*/

// Invoke loads the routine source, compiles it and runs it with the session
// module. The source is read again on every call.
func (h *Host) Invoke(ctx context.Context, id host.RoutineID) error {
	ns, routine, ok := strings.Cut(string(id), ".")
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoutineNotFound, id)
	}
	src, err := h.redis.HGet(ctx, h.keys.namespace(ns), routine).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrRoutineNotFound, id)
	}
	if err != nil {
		return err
	}

	chunk, err := luahook.Compile(string(id), src)
	if err != nil {
		return err
	}
	return luahook.Run(ctx, chunk, h.sessionModule())
}

/*
====================================
PRIVILEGES
====================================
*/

func (h *Host) IsSuperuser(ctx context.Context, sess host.SessionContext) (bool, error) {
	h.mu.Lock()
	token := h.session.Credential
	h.mu.Unlock()

	if h.verifier != nil && token != "" {
		return h.verifier.Superuser(token, sess.User, sess.DatabaseName)
	}
	return h.redis.SIsMember(ctx, h.keys.superusers(), sess.User).Result()
}
