package shared

import (
	"sync"
	"time"
)

// Handle tracks one concurrently dispatched execution. The spawning side
// calls Done exactly once when the execution finishes.
type Handle struct {
	done    *Flag
	err     error
	counter *Counter
}

// NewHandle returns a handle for an execution that has not finished yet.
func NewHandle() *Handle {
	return &Handle{done: NewFlag()}
}

// Done records the outcome and releases all joiners. The active counter of
// the owning registry drops here, not when the handle is pruned, so a
// finished execution stops counting before anyone joins it.
func (h *Handle) Done(err error) {
	h.err = err
	h.done.Set()
	if h.counter != nil {
		h.counter.Decrement()
	}
}

// Finished reports whether the execution has completed.
func (h *Handle) Finished() bool {
	return h.done.IsSet()
}

// Join blocks until the execution finishes and returns its error.
func (h *Handle) Join() error {
	h.done.Wait(-1)
	return h.err
}

// JoinTimeout waits up to timeout for the execution to finish. It reports
// whether the execution completed; the error is meaningful only when it did.
func (h *Handle) JoinTimeout(timeout time.Duration) (error, bool) {
	if !h.done.Wait(timeout) {
		return nil, false
	}
	return h.err, true
}

// Pools groups execution handles by pool name. Access always happens under
// the pools lock through the scoped accessors, mirroring the way concurrent
// task dispatch and the barrier that joins it must never observe a pool
// mid-update.
type Pools struct {
	counter *Counter
	mu      sync.Mutex
	pools   map[string][]*Handle
}

// NewPools returns an empty pool registry sharing the given active counter.
// Every handle added to any pool increments the counter; the handle's Done
// decrements it again.
func NewPools(counter *Counter) *Pools {
	return &Pools{counter: counter, pools: map[string][]*Handle{}}
}

// Add appends a handle to the named pool. The handle must not have finished
// yet; Add hands it the active counter its Done will decrement.
func (p *Pools) Add(pool string, h *Handle) {
	p.mu.Lock()
	h.counter = p.counter
	p.pools[pool] = append(p.pools[pool], h)
	p.mu.Unlock()
	if p.counter != nil {
		p.counter.Increment()
	}
}

// Access runs fn with the handles of a single pool while holding the
// registry lock. fn must not call back into the registry.
func (p *Pools) Access(pool string, fn func(handles []*Handle)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.pools[pool])
}

// Locked runs fn with the whole registry while holding the lock. fn must not
// call back into the registry.
func (p *Pools) Locked(fn func(pools map[string][]*Handle)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.pools)
}

// TryLocked attempts to acquire the registry lock without blocking and runs
// fn when it succeeds. It reports whether fn ran. Joining barriers use it to
// re-snapshot pools without stalling concurrent dispatch.
func (p *Pools) TryLocked(fn func(pools map[string][]*Handle)) bool {
	if !p.mu.TryLock() {
		return false
	}
	defer p.mu.Unlock()
	fn(p.pools)
	return true
}

// Names returns the names of all pools that currently hold handles.
func (p *Pools) Names() []string {
	var names []string
	p.Locked(func(pools map[string][]*Handle) {
		for name, handles := range pools {
			if len(handles) > 0 {
				names = append(names, name)
			}
		}
	})
	return names
}

// Prune removes finished handles from the named pool. Their share of the
// active counter was already returned by Done.
func (p *Pools) Prune(pool string) {
	p.Access(pool, func(handles []*Handle) {
		kept := handles[:0]
		for _, h := range handles {
			if h.Finished() {
				continue
			}
			kept = append(kept, h)
		}
		p.pools[pool] = kept
	})
}

// JoinAll joins every handle in every pool, pruning as it goes, until all
// pools drain. New handles added while joining are picked up as well.
func (p *Pools) JoinAll() {
	for {
		var pending []*Handle
		p.Locked(func(pools map[string][]*Handle) {
			for _, handles := range pools {
				for _, h := range handles {
					if !h.Finished() {
						pending = append(pending, h)
					}
				}
			}
		})
		if len(pending) == 0 {
			for _, name := range p.Names() {
				p.Prune(name)
			}
			return
		}
		for _, h := range pending {
			_ = h.Join()
		}
		for _, name := range p.Names() {
			p.Prune(name)
		}
	}
}
