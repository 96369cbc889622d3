package tokenmanager

import (
	"context"
	"sync"
)

// refreshGuard keeps token reads out while a refresh cycle replaces the token.
//
// At most one writer holds the guard. Readers register for the duration of a store
// read; a writer that has set held waits for registered readers to drain, and new
// readers wait until the writer releases. Waiting is notification-based: every state
// change closes the current changed channel and installs a fresh one.
type refreshGuard struct {
	mu      sync.Mutex
	held    bool
	readers int
	changed chan struct{}
}

// newHeldGuard returns a guard that is already held. The refresh loop releases it
// after its first housekeeping pass.
func newHeldGuard() *refreshGuard {
	return &refreshGuard{
		held:    true,
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiter. Caller must hold g.mu.
func (g *refreshGuard) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// wait blocks until cond holds (evaluated under g.mu) or ctx ends. On success it runs
// then while still holding g.mu.
func (g *refreshGuard) wait(ctx context.Context, cond func() bool, then func()) error {
	for {
		g.mu.Lock()
		if cond() {
			then()
			g.mu.Unlock()
			return nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Acquire takes the guard for a writer, blocking new readers immediately and then
// waiting for in-flight reads to finish.
func (g *refreshGuard) Acquire(ctx context.Context) error {
	err := g.wait(ctx,
		func() bool { return !g.held },
		func() {
			g.held = true
			g.broadcast()
		},
	)
	if err != nil {
		return err
	}

	err = g.wait(ctx, func() bool { return g.readers == 0 }, func() {})
	if err != nil {
		g.Release()
		return err
	}
	return nil
}

// Release ends the writer's hold. Releasing an unheld guard is a no-op.
func (g *refreshGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.held {
		return
	}
	g.held = false
	g.broadcast()
}

// BeginRead blocks until no writer holds the guard and registers a reader.
// Every successful call must be paired with EndRead.
func (g *refreshGuard) BeginRead(ctx context.Context) error {
	return g.wait(ctx,
		func() bool { return !g.held },
		func() { g.readers++ },
	)
}

// EndRead unregisters a reader.
func (g *refreshGuard) EndRead() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.readers--
	if g.readers == 0 {
		g.broadcast()
	}
}

// isHeld reports whether a writer currently holds the guard.
func (g *refreshGuard) isHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
