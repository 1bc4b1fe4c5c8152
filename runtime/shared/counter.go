package shared

import "sync"

// Counter is a thread-safe counter whose observers are notified after every
// change with the new count. Observers run outside the counter lock.
type Counter struct {
	mu        sync.Mutex
	count     int
	observers []func(count int)
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Observe registers fn to be invoked with the new count after each change.
func (c *Counter) Observe(fn func(count int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Increment adds one to the counter.
func (c *Counter) Increment() {
	c.add(1)
}

// Decrement subtracts one from the counter.
func (c *Counter) Decrement() {
	c.add(-1)
}

func (c *Counter) add(delta int) {
	c.mu.Lock()
	c.count += delta
	count := c.count
	observers := make([]func(int), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(count)
	}
}

// Count returns the current value.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
