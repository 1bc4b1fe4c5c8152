package task

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/veltis/measure/runtime/shared"
)

// composePerform wraps a task's Perform according to its settings. The order
// matters: the stop/pause gate runs first, then pool joining, then the
// dispatch to a concurrency pool.
func composePerform(t Task) func(ctx context.Context) error {
	b := t.Base()
	fn := t.Perform
	if b.Parallel.Activated && b.Parallel.Pool != "" {
		fn = makeParallel(t, fn, b.Parallel.Pool)
	}
	if b.Wait.Activated {
		fn = makeWait(t, fn, b.Wait.Wait, b.Wait.NoWait)
	}
	if b.Stoppable {
		fn = makeStoppable(t, fn)
	}
	return fn
}

// makeStoppable gates fn behind the stop/pause protocol: a pending stop
// skips the task silently, a pending pause parks until resumed.
func makeStoppable(t Task, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		root := t.Base().root
		if root != nil && root.handleStopPause(ctx) {
			return nil
		}
		return fn(ctx)
	}
}

// makeParallel dispatches fn to a goroutine tracked in the named pool. The
// caller returns immediately; failures are recorded on the root and flip the
// stop signal so the rest of the tree winds down.
func makeParallel(t Task, fn func(ctx context.Context) error, pool string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		b := t.Base()
		root := b.root
		handle := shared.NewHandle()
		root.Pools.Add(pool, handle)
		go func() {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("task %q crashed: %v\n%s", b.name, rec, debug.Stack())
				}
				if err != nil {
					root.RecordError(b.path+"/"+b.name, err.Error())
					root.ShouldStop.Set()
				}
				handle.Done(err)
			}()
			err = fn(ctx)
		}()
		return nil
	}
}

// makeWait joins concurrency pools before running fn. An explicit wait list
// takes precedence; otherwise every pool not in noWait is joined; with both
// empty every pool is joined. Pools are re-snapshotted after each join round
// so work dispatched while joining is waited for too.
func makeWait(t Task, fn func(ctx context.Context) error, wait, noWait []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		root := t.Base().root
		joinPools(root.Pools, wait, noWait)
		return fn(ctx)
	}
}

func joinPools(pools *shared.Pools, wait, noWait []string) {
	selected := func(name string) bool {
		if len(wait) > 0 {
			for _, w := range wait {
				if w == name {
					return true
				}
			}
			return false
		}
		for _, n := range noWait {
			if n == name {
				return false
			}
		}
		return true
	}
	for {
		var pending []*shared.Handle
		var names []string
		pools.Locked(func(all map[string][]*shared.Handle) {
			for name, handles := range all {
				if !selected(name) {
					continue
				}
				names = append(names, name)
				for _, h := range handles {
					if !h.Finished() {
						pending = append(pending, h)
					}
				}
			}
		})
		for _, name := range names {
			if len(pending) == 0 {
				pools.Prune(name)
			}
		}
		if len(pending) == 0 {
			return
		}
		for _, h := range pending {
			_ = h.Join()
		}
		for _, name := range names {
			pools.Prune(name)
		}
	}
}
