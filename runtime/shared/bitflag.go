package shared

import (
	"fmt"
	"sync"
	"time"
)

// BitFlag tracks a set of named boolean flags packed into a single word.
// Flag names are fixed at construction time; referring to an unknown name
// panics, which surfaces programming errors early.
type BitFlag struct {
	mu    sync.Mutex
	bits  map[string]uint64
	state uint64
	// one notification channel per flag, created lazily by waiters and
	// closed when the flag is raised
	events map[uint64]chan struct{}
}

// NewBitFlag allocates a BitFlag tracking the given flag names.
func NewBitFlag(names ...string) *BitFlag {
	if len(names) > 64 {
		panic("shared: too many flags")
	}
	bits := make(map[string]uint64, len(names))
	for i, name := range names {
		if _, dup := bits[name]; dup {
			panic(fmt.Sprintf("shared: duplicate flag %q", name))
		}
		bits[name] = 1 << uint(i)
	}
	return &BitFlag{bits: bits, events: map[uint64]chan struct{}{}}
}

func (b *BitFlag) mask(names []string) uint64 {
	var m uint64
	for _, name := range names {
		bit, ok := b.bits[name]
		if !ok {
			panic(fmt.Sprintf("shared: unknown flag %q", name))
		}
		m |= bit
	}
	return m
}

// Set raises the given flags and wakes any goroutine waiting on them.
func (b *BitFlag) Set(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.mask(names)
	b.state |= m
	for bit, ch := range b.events {
		if b.state&bit == bit {
			close(ch)
			delete(b.events, bit)
		}
	}
}

// Clear lowers the given flags. With no arguments it lowers every flag.
func (b *BitFlag) Clear(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.state = 0
		return
	}
	b.state &^= b.mask(names)
}

// Test reports whether every one of the given flags is currently set. The
// combined mask is compared in a single operation so the answer is consistent
// even while other goroutines flip flags.
func (b *BitFlag) Test(names ...string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.mask(names)
	return b.state&m == m
}

// Wait blocks until every one of the given flags is set or timeout elapses.
// A negative timeout blocks indefinitely. It reports whether all flags were
// observed set.
func (b *BitFlag) Wait(timeout time.Duration, names ...string) bool {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		b.mu.Lock()
		m := b.mask(names)
		if b.state&m == m {
			b.mu.Unlock()
			return true
		}
		// pick one missing flag and wait for it
		var bit uint64 = 1
		for ; bit&m == 0 || b.state&bit != 0; bit <<= 1 {
		}
		ch, ok := b.events[bit]
		if !ok {
			ch = make(chan struct{})
			b.events[bit] = ch
		}
		b.mu.Unlock()

		if timeout < 0 {
			<-ch
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return b.Test(names...)
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return b.Test(names...)
		}
	}
}
