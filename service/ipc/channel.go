package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no message arrived in time.
	ErrTimeout = errors.New("ipc: receive timed out")
	// ErrClosed is returned once the channel cannot carry messages
	// anymore.
	ErrClosed = errors.New("ipc: channel closed")
)

// Channel is one end of a duplex message stream.
type Channel interface {
	Send(m *Message) error
	// Receive returns the next message, ErrTimeout when none arrived
	// within timeout, or ErrClosed once the peer went away. A negative
	// timeout blocks indefinitely.
	Receive(timeout time.Duration) (*Message, error)
	Close() error
}

// pipeChannel frames messages as JSON lines over a reader/writer pair,
// typically the stdin/stdout of the worker process.
type pipeChannel struct {
	writeMu sync.Mutex
	w       io.Writer
	inbox   chan *Message
	closeMu sync.Mutex
	closed  bool
	closeFn func() error
}

// NewPipeChannel returns a channel reading frames from r and writing frames
// to w. closeFn, when not nil, runs once on Close.
func NewPipeChannel(r io.Reader, w io.Writer, closeFn func() error) Channel {
	c := &pipeChannel{w: w, inbox: make(chan *Message, 64), closeFn: closeFn}
	go c.readLoop(r)
	return c
}

func (c *pipeChannel) readLoop(r io.Reader) {
	defer close(c.inbox)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		m := &Message{}
		if err := json.Unmarshal(line, m); err != nil {
			// a corrupted frame poisons the stream; stop reading
			return
		}
		c.inbox <- m
	}
}

func (c *pipeChannel) Send(m *Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ipc: encode %s: %w", m.Kind, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrClosed
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ipc: send %s: %w", m.Kind, err)
	}
	return nil
}

func (c *pipeChannel) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func (c *pipeChannel) Receive(timeout time.Duration) (*Message, error) {
	if timeout < 0 {
		m, ok := <-c.inbox
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m, ok := <-c.inbox:
		if !ok {
			return nil, ErrClosed
		}
		return m, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (c *pipeChannel) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.closeFn
	c.closeMu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// memoryChannel is an in-process channel end used by tests and the
// in-process launcher.
type memoryChannel struct {
	out chan *Message
	in  chan *Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	peer   *memoryChannel
}

// NewMemoryPair returns two connected in-process channel ends.
func NewMemoryPair() (Channel, Channel) {
	ab := make(chan *Message, 64)
	ba := make(chan *Message, 64)
	a := &memoryChannel{out: ab, in: ba, done: make(chan struct{})}
	b := &memoryChannel{out: ba, in: ab, done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *memoryChannel) Send(m *Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case c.out <- m:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.peer.done:
		return ErrClosed
	}
}

func (c *memoryChannel) Receive(timeout time.Duration) (*Message, error) {
	if timeout < 0 {
		select {
		case m := <-c.in:
			return m, nil
		case <-c.done:
			return nil, ErrClosed
		case <-c.peer.done:
			return c.drain()
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, ErrClosed
	case <-c.peer.done:
		return c.drain()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (c *memoryChannel) drain() (*Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	default:
		return nil, ErrClosed
	}
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}
