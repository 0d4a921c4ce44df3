// Package guard implements the re-entrancy flag around one hook invocation.
//
// A Guard is not a mutex. The flag travels with the context handed to the
// hook, so only work started from inside a hook invocation sees it. Unrelated
// sessions dispatching through the same Guard never contend.
package guard

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAlreadyExecuting is returned by Enter when the context already carries a
// live token issued by the same Guard.
var ErrAlreadyExecuting = errors.New("login hook already executing")

// Guard issues context-bound tokens and counts the ones outstanding.
type Guard struct {
	inflight atomic.Int64
}

// Token marks one hook invocation. It is live until Release.
type Token struct {
	g        *Guard
	released atomic.Bool
}

type guardKey struct{ g *Guard }
type activeKey struct{}

// Enter issues a token and returns ctx carrying it. It fails with
// ErrAlreadyExecuting when ctx already holds a live token from g.
func (g *Guard) Enter(ctx context.Context) (context.Context, *Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.Held(ctx) {
		return ctx, nil, ErrAlreadyExecuting
	}
	t := &Token{g: g}
	g.inflight.Add(1)
	ctx = context.WithValue(ctx, guardKey{g}, t)
	return context.WithValue(ctx, activeKey{}, t), t, nil
}

// Held reports whether ctx carries a live token issued by g.
func (g *Guard) Held(ctx context.Context) bool {
	if g == nil || ctx == nil {
		return false
	}
	t, _ := ctx.Value(guardKey{g}).(*Token)
	return t.Live()
}

// Executing reports whether any token issued by g is outstanding.
func (g *Guard) Executing() bool {
	return g.InFlight() > 0
}

// InFlight returns the number of outstanding tokens.
func (g *Guard) InFlight() int64 {
	if g == nil {
		return 0
	}
	return g.inflight.Load()
}

// Active reports whether ctx carries a live token from any Guard.
func Active(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	t, _ := ctx.Value(activeKey{}).(*Token)
	return t.Live()
}

// Live reports whether the token has not been released.
func (t *Token) Live() bool {
	return t != nil && !t.released.Load()
}

// Release ends the invocation. Only the first call has an effect.
func (t *Token) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.g.inflight.Add(-1)
}
