// Package groutine starts goroutines carrying a name in their pprof labels and context,
// so that blocking BLE calls show up by purpose in goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Group tracks named goroutines sharing one cancellable context.
// The zero value is not usable; create one with NewGroup.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a Group whose goroutines observe parent's cancellation.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Go starts a named goroutine tracked by the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Stop cancels the group's context and waits for all goroutines to return.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
