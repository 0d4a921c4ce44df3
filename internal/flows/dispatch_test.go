package flows

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/host/memhost"
	"github.com/MrEthical07/loginhook/internal/guard"
	"github.com/MrEthical07/loginhook/internal/scope"
)

type logEntry struct {
	level slog.Level
	msg   string
}

type recordHandler struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordHandler() *recordHandler {
	return &recordHandler{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.entries = append(*h.entries, logEntry{level: r.Level, msg: r.Message})
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) atLeast(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range *h.entries {
		if e.level >= level {
			out = append(out, e.msg)
		}
	}
	return out
}

type blockedErr struct{ hook *host.HookError }

func (e *blockedErr) Error() string { return "blocked: " + e.hook.Error() }
func (e *blockedErr) Unwrap() error { return e.hook }

func primarySession() host.SessionContext {
	return host.SessionContext{
		Role:         host.RoleSession,
		DatabaseID:   "16384",
		DatabaseName: "app",
		User:         "alice",
	}
}

func modernCaps() host.Capabilities {
	return host.Capabilities{SubTransactions: true, RecoveryCheck: true, EventTriggers: true}
}

func newDeps(h *memhost.Host, logs *recordHandler) DispatchDeps {
	return DispatchDeps{
		Namespace: "login_hook",
		Routine:   "login",
		Strategy:  scope.SelectStrategy(h.Capabilities()),
		Host:      h,
		Guard:     &guard.Guard{},
		Logger:    slog.New(logs),
		Blocked: func(herr *host.HookError) error {
			return &blockedErr{hook: herr}
		},
	}
}

func TestDispatchSkipNeverResolves(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*host.SessionContext)
		reason SkipReason
	}{
		{"no database", func(s *host.SessionContext) { s.DatabaseID = "" }, SkipNoDatabase},
		{"background worker", func(s *host.SessionContext) { s.Role = host.RoleBackgroundWorker }, SkipBackgroundWorker},
		{"parallel worker", func(s *host.SessionContext) { s.Role = host.RoleParallelWorker }, SkipParallelWorker},
		{"recovery", func(s *host.SessionContext) { s.InRecovery = true }, SkipRecovery},
		{"event trigger", func(s *host.SessionContext) { s.EventTriggerActive = true }, SkipEventTrigger},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sess := primarySession()
			tc.mutate(&sess)
			h := memhost.New(sess, modernCaps())
			h.Register("login_hook", "login", func(context.Context) error { return nil })
			logs := newRecordHandler()

			res := RunDispatch(context.Background(), newDeps(h, logs))
			if res.Outcome != OutcomeSkipped || res.Reason != tc.reason {
				t.Fatalf("expected skipped/%v, got %v/%v", tc.reason, res.Outcome, res.Reason)
			}
			if ns, r := h.Lookups(); ns != 0 || r != 0 {
				t.Fatalf("resolver reached on skip: namespaces=%d routines=%d", ns, r)
			}
			if h.Invocations() != 0 {
				t.Fatal("hook invoked on skip")
			}
			if j := h.Journal(); len(j) != 0 {
				t.Fatalf("scope touched on skip: %v", j)
			}
			if w := logs.atLeast(slog.LevelWarn); len(w) != 0 {
				t.Fatalf("unexpected warnings: %v", w)
			}
		})
	}
}

func TestDispatchSucceeded(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	deps := newDeps(h, newRecordHandler())

	var sawExecuting, sawHeld bool
	h.Register("login_hook", "login", func(ctx context.Context) error {
		sawExecuting = deps.Guard.Executing()
		sawHeld = deps.Guard.Held(ctx) && guard.Active(ctx)
		return nil
	})

	if deps.Guard.Executing() {
		t.Fatal("guard set before dispatch")
	}
	res := RunDispatch(context.Background(), deps)

	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %v (%v)", res.Outcome, res.HookErr)
	}
	if res.Err != nil || res.HookErr != nil {
		t.Fatalf("unexpected errors: %v %v", res.Err, res.HookErr)
	}
	if h.Invocations() != 1 {
		t.Fatalf("expected exactly one invocation, got %d", h.Invocations())
	}
	if !sawExecuting || !sawHeld {
		t.Fatal("guard not visible from inside the hook")
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after dispatch")
	}
	if res.Scope != scope.KindTransaction {
		t.Fatalf("expected full transaction scope, got %v", res.Scope)
	}
	want := []string{memhost.OpBegin, memhost.OpPushSnapshot, memhost.OpPopSnapshot, memhost.OpCommit}
	if got := h.Journal(); !reflect.DeepEqual(got, want) {
		t.Fatalf("journal mismatch: got %v want %v", got, want)
	}
}

func TestDispatchReentrantCallShortCircuits(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	deps := newDeps(h, newRecordHandler())

	var nested DispatchResult
	h.Register("login_hook", "login", func(ctx context.Context) error {
		nested = RunDispatch(ctx, deps)
		return nil
	})

	res := RunDispatch(context.Background(), deps)
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %v", res.Outcome)
	}
	if nested.Outcome != OutcomeSkipped || nested.Reason != SkipReentrant {
		t.Fatalf("nested attempt: got %v/%v", nested.Outcome, nested.Reason)
	}
	if h.Invocations() != 1 {
		t.Fatalf("expected one invocation, got %d", h.Invocations())
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after dispatch")
	}
}

func TestIndependentSessionsShareGuardWithoutContention(t *testing.T) {
	held := memhost.New(primarySession(), modernCaps())
	other := memhost.New(primarySession(), modernCaps())
	deps := newDeps(held, newRecordHandler())
	otherDeps := deps
	otherDeps.Host = other

	entered := make(chan struct{})
	unblock := make(chan struct{})
	held.Register("login_hook", "login", func(context.Context) error {
		close(entered)
		<-unblock
		return nil
	})
	var otherSawHeld bool
	other.Register("login_hook", "login", func(ctx context.Context) error {
		otherSawHeld = deps.Guard.Held(ctx)
		return nil
	})

	first := make(chan DispatchResult, 1)
	go func() { first <- RunDispatch(context.Background(), deps) }()
	<-entered

	second := RunDispatch(context.Background(), otherDeps)
	close(unblock)
	outer := <-first

	if second.Outcome != OutcomeSucceeded {
		t.Fatalf("independent session: got %v/%v", second.Outcome, second.Reason)
	}
	if !otherSawHeld {
		t.Fatal("independent session did not see its own token")
	}
	if outer.Outcome != OutcomeSucceeded {
		t.Fatalf("held session: got %v/%v", outer.Outcome, outer.Reason)
	}
	if held.Invocations() != 1 || other.Invocations() != 1 {
		t.Fatalf("expected one invocation each, got %d and %d", held.Invocations(), other.Invocations())
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after both sessions")
	}
}

func TestDispatchNamespaceAbsent(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	logs := newRecordHandler()

	res := RunDispatch(context.Background(), newDeps(h, logs))
	if res.Outcome != OutcomeSkipped || res.Reason != SkipNamespaceAbsent {
		t.Fatalf("expected skipped/namespace_absent, got %v/%v", res.Outcome, res.Reason)
	}
	if w := logs.atLeast(slog.LevelWarn); len(w) != 0 {
		t.Fatalf("unexpected warnings: %v", w)
	}
	want := []string{memhost.OpBegin, memhost.OpPushSnapshot, memhost.OpPopSnapshot, memhost.OpCommit}
	if got := h.Journal(); !reflect.DeepEqual(got, want) {
		t.Fatalf("journal mismatch: got %v want %v", got, want)
	}
}

func TestDispatchRoutineAbsentWarns(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.CreateNamespace("login_hook")
	logs := newRecordHandler()

	res := RunDispatch(context.Background(), newDeps(h, logs))
	if res.Outcome != OutcomeHookAbsent {
		t.Fatalf("expected hook_absent, got %v", res.Outcome)
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	warnings := logs.atLeast(slog.LevelWarn)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "does not exist in database app") {
		t.Fatalf("expected missing routine warning, got %v", warnings)
	}
	if inTx, _, snaps := h.State(); inTx || snaps != 0 {
		t.Fatal("scope leaked")
	}
}

func TestDispatchFailurePrivilegedDegrades(t *testing.T) {
	sess := primarySession()
	sess.User = "postgres"
	h := memhost.New(sess, modernCaps())
	h.GrantSuperuser("postgres")
	h.Register("login_hook", "login", func(context.Context) error {
		return &host.HookError{Code: pgerrcode.CheckViolation, Message: "audit table rejected row"}
	})
	logs := newRecordHandler()
	deps := newDeps(h, logs)

	res := RunDispatch(context.Background(), deps)
	if res.Outcome != OutcomeDegraded {
		t.Fatalf("expected degraded, got %v", res.Outcome)
	}
	if res.Err != nil {
		t.Fatalf("degraded session must not return an error: %v", res.Err)
	}
	if res.HookErr == nil || res.HookErr.Code != pgerrcode.CheckViolation {
		t.Fatalf("expected captured hook error with original code, got %+v", res.HookErr)
	}
	if res.HookErr.Namespace != "login_hook" || res.HookErr.Routine != "login" {
		t.Fatalf("hook error missing routine context: %+v", res.HookErr)
	}
	if !res.RolledBack {
		t.Fatal("expected scope rolled back")
	}
	want := []string{memhost.OpBegin, memhost.OpPushSnapshot, memhost.OpPopSnapshot, memhost.OpRollback}
	if got := h.Journal(); !reflect.DeepEqual(got, want) {
		t.Fatalf("journal mismatch: got %v want %v", got, want)
	}
	if w := logs.atLeast(slog.LevelWarn); len(w) == 0 {
		t.Fatal("expected a warning")
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after failure")
	}
}

func TestDispatchFailureUnprivilegedBlocks(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.Register("login_hook", "login", func(context.Context) error {
		return errors.New("permission denied for table audit_log")
	})
	logs := newRecordHandler()
	deps := newDeps(h, logs)

	res := RunDispatch(context.Background(), deps)
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
	var be *blockedErr
	if !errors.As(res.Err, &be) {
		t.Fatalf("expected blocked error, got %v", res.Err)
	}
	if be.hook.Code != pgerrcode.RaiseException {
		t.Fatalf("expected P0001 for plain errors, got %s", be.hook.Code)
	}
	if !res.RolledBack {
		t.Fatal("expected scope rolled back")
	}
	if errs := logs.atLeast(slog.LevelError); len(errs) == 0 {
		t.Fatal("expected an error log")
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after blocked login")
	}
	if inTx, _, snaps := h.State(); inTx || snaps != 0 {
		t.Fatal("scope leaked")
	}
}

// The fatal path only rolls back the hook's own sub-transaction; the caller's
// transaction is left for the host to abort with the session.
func TestDispatchBlockedLeavesOuterTransaction(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	if err := h.Begin(context.Background()); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	h.ResetJournal()
	h.Register("login_hook", "login", func(context.Context) error {
		return errors.New("boom")
	})

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
	if res.Scope != scope.KindSubTransaction {
		t.Fatalf("expected sub-transaction scope, got %v", res.Scope)
	}
	want := []string{memhost.OpBeginSub, memhost.OpPushSnapshot, memhost.OpPopSnapshot, memhost.OpRollbackSub}
	if got := h.Journal(); !reflect.DeepEqual(got, want) {
		t.Fatalf("journal mismatch: got %v want %v", got, want)
	}
	inTx, sub, _ := h.State()
	if !inTx || sub != 0 {
		t.Fatalf("expected caller transaction intact with no sub-transactions, got inTx=%v sub=%d", inTx, sub)
	}
}

func TestDispatchLegacyStrategyInsideCallerTransaction(t *testing.T) {
	h := memhost.New(primarySession(), host.Capabilities{})
	if err := h.Begin(context.Background()); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	h.ResetJournal()
	h.Register("login_hook", "login", func(context.Context) error { return errors.New("boom") })

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Scope != scope.KindNone {
		t.Fatalf("expected no scope of its own, got %v", res.Scope)
	}
	if res.RolledBack {
		t.Fatal("nothing of the dispatcher's own can be rolled back")
	}
	want := []string{memhost.OpPushSnapshot, memhost.OpPopSnapshot}
	if got := h.Journal(); !reflect.DeepEqual(got, want) {
		t.Fatalf("journal mismatch: got %v want %v", got, want)
	}
}

func TestDispatchPanicIsCaptured(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.Register("login_hook", "login", func(context.Context) error { panic("nil map write") })
	deps := newDeps(h, newRecordHandler())

	res := RunDispatch(context.Background(), deps)
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
	if res.HookErr == nil || res.HookErr.Code != pgerrcode.InternalError {
		t.Fatalf("expected XX000, got %+v", res.HookErr)
	}
	if deps.Guard.Executing() {
		t.Fatal("guard still set after panic")
	}
}

func TestDispatchTimeout(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.Register("login_hook", "login", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	deps := newDeps(h, newRecordHandler())
	deps.Timeout = 10 * time.Millisecond

	res := RunDispatch(context.Background(), deps)
	if res.HookErr == nil || res.HookErr.Code != pgerrcode.QueryCanceled {
		t.Fatalf("expected 57014, got %+v", res.HookErr)
	}
}

func TestDispatchLookupErrorEscalates(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.FailOn("lookup", errors.New("catalog unavailable"))

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
	if !res.RolledBack {
		t.Fatal("expected rollback")
	}
}

func TestDispatchScopeOpenFailureEscalates(t *testing.T) {
	sess := primarySession()
	sess.Superuser = true
	h := memhost.New(sess, modernCaps())
	h.FailOn(memhost.OpBegin, errors.New("too many transactions"))
	h.Register("login_hook", "login", func(context.Context) error { return nil })

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Outcome != OutcomeDegraded {
		t.Fatalf("expected degraded, got %v", res.Outcome)
	}
	if res.HookErr == nil || res.HookErr.Code != pgerrcode.InvalidTransactionState {
		t.Fatalf("expected 25000, got %+v", res.HookErr)
	}
	if h.Invocations() != 0 {
		t.Fatal("hook must not run without a scope")
	}
}

func TestDispatchCommitFailureEscalates(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.Register("login_hook", "login", func(context.Context) error { return nil })
	h.FailOn(memhost.OpCommit, errors.New("could not serialize access"))

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
	if inTx, _, _ := h.State(); inTx {
		t.Fatal("transaction leaked after failed commit")
	}
	if !res.RolledBack {
		t.Fatal("expected the failed commit to report a rollback")
	}
	if strings.Contains(res.HookErr.Detail, "rollback") {
		t.Fatalf("rollback after failed commit reported an error: %s", res.HookErr.Detail)
	}
}

func TestDispatchPrivilegeCheckFailureFailsClosed(t *testing.T) {
	sess := primarySession()
	h := memhost.New(sess, modernCaps())
	h.GrantSuperuser(sess.User)
	h.FailOn("privilege", errors.New("role lookup failed"))
	h.Register("login_hook", "login", func(context.Context) error { return errors.New("boom") })

	res := RunDispatch(context.Background(), newDeps(h, newRecordHandler()))
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %v", res.Outcome)
	}
}

func TestDispatchSnapshotFailure(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	h.FailOn("snapshot", errors.New("shared memory not attached"))
	deps := newDeps(h, newRecordHandler())

	res := RunDispatch(context.Background(), deps)
	if res.Outcome != OutcomeSkipped || res.Reason != SkipContextUnavailable {
		t.Fatalf("expected skipped/context_unavailable, got %v/%v", res.Outcome, res.Reason)
	}
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if deps.Guard.Executing() {
		t.Fatal("guard set")
	}
}

func TestDispatchResolvesFreshEachAttempt(t *testing.T) {
	h := memhost.New(primarySession(), modernCaps())
	deps := newDeps(h, newRecordHandler())

	if res := RunDispatch(context.Background(), deps); res.Reason != SkipNamespaceAbsent {
		t.Fatalf("expected namespace_absent, got %v", res.Reason)
	}

	h.Register("login_hook", "login", func(context.Context) error { return nil })
	if res := RunDispatch(context.Background(), deps); res.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded after registration, got %v", res.Outcome)
	}

	h.Unregister("login_hook", "login")
	if res := RunDispatch(context.Background(), deps); res.Outcome != OutcomeHookAbsent {
		t.Fatalf("expected hook_absent after unregister, got %v", res.Outcome)
	}
	if ns, _ := h.Lookups(); ns != 3 {
		t.Fatalf("expected a namespace lookup per attempt, got %d", ns)
	}
}
