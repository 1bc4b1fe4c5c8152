// Package shared provides the synchronization primitives used to coordinate
// hierarchical task execution: boolean flags, named bit flags, thread-safe
// counters, pools of execution handles and the registry of shared resources
// owned by a task tree root.
package shared

import (
	"sync"
	"time"
)

// Flag is a resettable boolean event. Waiters block until the flag is set or
// the supplied timeout elapses.
type Flag struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewFlag returns a cleared flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set marks the flag and releases all current waiters.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	close(f.ch)
}

// Clear resets the flag; subsequent waiters block again.
func (f *Flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		return
	}
	f.set = false
	f.ch = make(chan struct{})
}

// IsSet reports whether the flag is currently set.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait blocks until the flag is set or timeout elapses. A negative timeout
// blocks indefinitely. It reports whether the flag was set when it returned.
func (f *Flag) Wait(timeout time.Duration) bool {
	f.mu.Lock()
	if f.set {
		f.mu.Unlock()
		return true
	}
	ch := f.ch
	f.mu.Unlock()

	if timeout < 0 {
		<-ch
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return f.IsSet()
	}
}
