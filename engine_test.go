package loginhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgerrcode"

	"github.com/MrEthical07/loginhook/host"
	"github.com/MrEthical07/loginhook/host/memhost"
)

func testSession() host.SessionContext {
	return host.SessionContext{
		Role:         host.RoleSession,
		DatabaseID:   "16384",
		DatabaseName: "app",
		User:         "alice",
	}
}

func fullCaps() host.Capabilities {
	return host.Capabilities{SubTransactions: true, RecoveryCheck: true, EventTriggers: true}
}

func newTestEngine(t *testing.T, h *memhost.Host, mutate func(*Builder)) *Engine {
	t.Helper()
	b := New().WithHost(h).WithLogger(slog.New(slog.DiscardHandler))
	if mutate != nil {
		mutate(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestVersion(t *testing.T) {
	if Version() != "1.0.3" {
		t.Fatalf("unexpected version %q", Version())
	}
	e := newTestEngine(t, memhost.New(testSession(), fullCaps()), nil)
	if e.Version() != Version() {
		t.Fatal("engine version differs from package version")
	}
}

func TestBuildRequiresHost(t *testing.T) {
	if _, err := New().Build(); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected ErrHostRequired, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithHost(memhost.New(testSession(), fullCaps())).WithLogger(slog.New(slog.DiscardHandler))
	e, err := b.Build()
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hook.Routine = ""
	_, err := New().WithConfig(cfg).WithHost(memhost.New(testSession(), fullCaps())).Build()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDispatchExposesExecutingToHook(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	e := newTestEngine(t, h, nil)

	var sawEngine, sawContext bool
	var attemptID string
	var hookCtx context.Context
	h.Register("login_hook", "login", func(ctx context.Context) error {
		sawEngine = e.Executing()
		sawContext = ExecutingFrom(ctx)
		attemptID, _ = AttemptIDFromContext(ctx)
		hookCtx = ctx
		return nil
	})

	if e.Executing() {
		t.Fatal("executing before dispatch")
	}
	res, err := e.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Outcome != OutcomeSucceeded || res.Scope != ScopeTransaction {
		t.Fatalf("unexpected result %+v", res)
	}
	if !sawEngine || !sawContext {
		t.Fatalf("hook did not observe executing flag: engine=%v ctx=%v", sawEngine, sawContext)
	}
	if attemptID == "" || attemptID != res.AttemptID {
		t.Fatalf("attempt ID mismatch: hook=%q result=%q", attemptID, res.AttemptID)
	}
	if e.Executing() || ExecutingFrom(context.Background()) || ExecutingFrom(hookCtx) {
		t.Fatal("executing after dispatch")
	}
	if res.Database != "app" || res.User != "alice" {
		t.Fatalf("session not reported: %+v", res)
	}
}

func TestExecutingClearedAfterAttempt(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(h *memhost.Host)
		outcome Outcome
	}{
		{
			name: "hook absent",
			setup: func(h *memhost.Host) {
				h.CreateNamespace("login_hook")
			},
			outcome: OutcomeHookAbsent,
		},
		{
			name: "blocked",
			setup: func(h *memhost.Host) {
				h.Register("login_hook", "login", func(context.Context) error {
					return host.NewHookError(pgerrcode.RaiseException, "denied")
				})
			},
			outcome: OutcomeBlocked,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := memhost.New(testSession(), fullCaps())
			tc.setup(h)
			e := newTestEngine(t, h, nil)

			ctx := context.Background()
			res, _ := e.Dispatch(ctx)
			if res.Outcome != tc.outcome {
				t.Fatalf("outcome %s, want %s", res.Outcome, tc.outcome)
			}
			if e.Executing() || e.InFlight() != 0 {
				t.Fatalf("engine still executing: in flight %d", e.InFlight())
			}
			if ExecutingFrom(ctx) {
				t.Fatal("caller context reports executing")
			}
		})
	}
}

func TestDispatchBlockedReturnsLoginBlockedError(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	h.Register("login_hook", "login", func(context.Context) error {
		return host.NewHookError(pgerrcode.RaiseException, "no logins on sunday")
	})
	e := newTestEngine(t, h, nil)

	res, err := e.Dispatch(context.Background())
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("expected blocked, got %+v", res)
	}
	var blocked *LoginBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected LoginBlockedError, got %T %v", err, err)
	}
	if blocked.Code != pgerrcode.InvalidAuthorizationSpecification {
		t.Fatalf("unexpected code %q", blocked.Code)
	}
	if blocked.Message != "login_hook.login() failed; only superusers can log in now" {
		t.Fatalf("unexpected message %q", blocked.Message)
	}
	var herr *HookError
	if !errors.As(err, &herr) || herr.Message != "no logins on sunday" {
		t.Fatalf("hook error not reachable through errors.As: %v", err)
	}
	if !errors.Is(err, ErrLoginBlocked) {
		t.Fatal("expected errors.Is(err, ErrLoginBlocked)")
	}
	if inTx, _, _ := h.State(); inTx {
		t.Fatal("transaction left open")
	}
}

func TestDispatchDegradedForSuperuser(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	h.GrantSuperuser("alice")
	h.Register("login_hook", "login", func(context.Context) error {
		return errors.New("relation \"audit\" does not exist")
	})
	e := newTestEngine(t, h, nil)

	res, err := e.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("superuser must keep the session: %v", err)
	}
	if res.Outcome != OutcomeDegraded || res.HookError == nil || res.HookError.Code != pgerrcode.RaiseException {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.RolledBack {
		t.Fatal("expected the hook transaction to be rolled back")
	}
}

func TestReentrantDispatchFromHook(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	e := newTestEngine(t, h, nil)

	var nested Result
	var nestedErr error
	h.Register("login_hook", "login", func(ctx context.Context) error {
		nested, nestedErr = e.Dispatch(ctx)
		return nil
	})

	res, err := e.Dispatch(context.Background())
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("outer dispatch: %+v %v", res, err)
	}
	if nestedErr != nil || nested.Outcome != OutcomeSkipped || nested.Reason != SkipReentrant {
		t.Fatalf("nested dispatch: %+v %v", nested, nestedErr)
	}
	if h.Invocations() != 1 {
		t.Fatalf("expected one invocation, got %d", h.Invocations())
	}
	if nested.AttemptID == res.AttemptID {
		t.Fatal("nested attempt must get its own ID")
	}
}

func TestDispatchSkipsAndAbsence(t *testing.T) {
	cases := []struct {
		name    string
		session host.SessionContext
		setup   func(*memhost.Host)
		outcome Outcome
		reason  SkipReason
	}{
		{
			name:    "parallel worker",
			session: host.SessionContext{Role: host.RoleParallelWorker, DatabaseID: "1"},
			outcome: OutcomeSkipped,
			reason:  SkipParallelWorker,
		},
		{
			name:    "no database",
			session: host.SessionContext{Role: host.RoleSession, User: "replicator"},
			outcome: OutcomeSkipped,
			reason:  SkipNoDatabase,
		},
		{
			name:    "namespace absent",
			session: testSession(),
			outcome: OutcomeSkipped,
			reason:  SkipNamespaceAbsent,
		},
		{
			name:    "routine absent",
			session: testSession(),
			setup:   func(h *memhost.Host) { h.CreateNamespace("login_hook") },
			outcome: OutcomeHookAbsent,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := memhost.New(tc.session, fullCaps())
			if tc.setup != nil {
				tc.setup(h)
			}
			e := newTestEngine(t, h, nil)
			res, err := e.Dispatch(context.Background())
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if res.Outcome != tc.outcome || res.Reason != tc.reason {
				t.Fatalf("got %s/%s want %s/%s", res.Outcome, res.Reason, tc.outcome, tc.reason)
			}
		})
	}
}

func TestDispatchSessionContextFailure(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	h.FailOn("snapshot", errors.New("shared memory not attached"))
	e := newTestEngine(t, h, nil)

	res, err := e.Dispatch(context.Background())
	if !errors.Is(err, ErrSessionContext) {
		t.Fatalf("expected ErrSessionContext, got %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != SkipContextUnavailable {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestScopeStrategyOverride(t *testing.T) {
	cases := []struct {
		name     string
		caps     host.Capabilities
		strategy ScopeStrategy
		want     ScopeKind
	}{
		{"auto with subtransactions", fullCaps(), ScopeAuto, ScopeSubTransaction},
		{"auto without subtransactions", host.Capabilities{}, ScopeAuto, ScopeNone},
		{"forced transaction", fullCaps(), ScopeTransactionOnly, ScopeNone},
		{"forced subtransaction", host.Capabilities{}, ScopeSubTransactionAlways, ScopeSubTransaction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := memhost.New(testSession(), tc.caps)
			h.Register("login_hook", "login", func(context.Context) error { return nil })
			cfg := DefaultConfig()
			cfg.Scope.Strategy = tc.strategy
			e := newTestEngine(t, h, func(b *Builder) { b.WithConfig(cfg) })

			if err := h.Begin(context.Background()); err != nil {
				t.Fatalf("begin: %v", err)
			}
			res, err := e.Dispatch(context.Background())
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if res.Scope != tc.want {
				t.Fatalf("scope %s, want %s", res.Scope, tc.want)
			}
			if inTx, depth, _ := h.State(); !inTx || depth != 0 {
				t.Fatalf("caller transaction disturbed: tx=%v depth=%d", inTx, depth)
			}
		})
	}
}

func TestDispatchAfterClose(t *testing.T) {
	e := newTestEngine(t, memhost.New(testSession(), fullCaps()), nil)
	e.Close()
	if _, err := e.Dispatch(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}

	var nilEngine *Engine
	if _, err := nilEngine.Dispatch(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady for nil engine, got %v", err)
	}
	if nilEngine.Executing() {
		t.Fatal("nil engine cannot be executing")
	}
}

func TestIndependentSessionsBothRunHook(t *testing.T) {
	// The caller's transaction with no subtransaction support leaves the
	// host's transaction state untouched, so two sessions can overlap.
	h := memhost.New(testSession(), host.Capabilities{})
	if err := h.Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	var sawOwnToken atomic.Int32
	h.Register("login_hook", "login", func(ctx context.Context) error {
		if ExecutingFrom(ctx) {
			sawOwnToken.Add(1)
		}
		first := false
		once.Do(func() { first = true; close(entered) })
		if first {
			<-release
		}
		return nil
	})
	e := newTestEngine(t, h, nil)

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Dispatch(context.Background())
		done <- res
	}()
	<-entered

	if got := e.InFlight(); got != 1 {
		t.Fatalf("expected one invocation in flight, got %d", got)
	}
	res, err := e.Dispatch(context.Background())
	if err != nil || res.Outcome != OutcomeSucceeded {
		t.Fatalf("independent session while another hook runs: %+v %v", res, err)
	}
	close(release)
	if first := <-done; first.Outcome != OutcomeSucceeded {
		t.Fatalf("first dispatch: %+v", first)
	}
	if h.Invocations() != 2 || sawOwnToken.Load() != 2 {
		t.Fatalf("expected both sessions to run the hook, got %d invocations", h.Invocations())
	}
	if e.Executing() {
		t.Fatal("engine still executing")
	}
	if n := e.MetricsSnapshot().Counters[MetricDispatchReentrant]; n != 0 {
		t.Fatalf("independent session counted as reentrant: %d", n)
	}
}

func TestEngineMetricsSnapshot(t *testing.T) {
	h := memhost.New(testSession(), fullCaps())
	h.Register("login_hook", "login", func(context.Context) error { return nil })
	e := newTestEngine(t, h, func(b *Builder) { b.WithLatencyHistograms(true) })

	for i := 0; i < 3; i++ {
		if _, err := e.Dispatch(context.Background()); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	snap := e.MetricsSnapshot()
	if snap.Counters[MetricHookSucceeded] != 3 || snap.Counters[MetricDispatchTotal] != 3 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	var total uint64
	for _, n := range snap.Histograms[MetricDispatchLatency] {
		total += n
	}
	if total != 3 {
		t.Fatalf("expected 3 latency samples, got %d", total)
	}
}
