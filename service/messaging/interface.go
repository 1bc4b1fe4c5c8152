// Package messaging defines the queue abstraction used to move log records
// and monitor updates between the engine receiver and its forwarders.
package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned by Consume once a closed queue drained.
var ErrClosed = errors.New("messaging: queue closed")

// Queue is an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue, blocking until
	// one is available, the queue closes or the context is cancelled.
	Consume(ctx context.Context) (Message[T], error)

	// Close marks the queue as closed; pending messages can still be
	// consumed, after which Consume returns ErrClosed.
	Close()
}

// Message is a message retrieved from a queue.
type Message[T any] interface {
	// T returns the payload of this message.
	T() *T

	// Ack acknowledges successful processing of this message.
	Ack() error

	// Nack indicates failure in processing this message; the queue may
	// redeliver it or park it on the dead letter list.
	Nack(err error) error
}
