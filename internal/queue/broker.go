// Package queue provides the message broker between pipeline stages.
// Delivery is at-least-once: a message not acked within the visibility
// timeout is redelivered, and after max_receive_count deliveries it moves
// to the queue's paired dead-letter queue, where it sits inert until an
// operator replays or purges it.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by Publish when the queue is at capacity and the
// context expires before space frees up.
var ErrQueueFull = errors.New("queue: full")

// Message is one delivery of a payload. ID and ReceiveCount are assigned by
// the broker; the same underlying message keeps its ID across redeliveries.
type Message struct {
	ID           string
	Queue        string
	Body         []byte
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Broker is the messaging interface the dispatchers consume from and the
// bridge publishes to.
type Broker interface {
	// Publish enqueues a payload. Blocks while the queue is full until the
	// context expires.
	Publish(ctx context.Context, queueName string, body []byte) error

	// Receive returns up to max messages, waiting up to wait for the first
	// one. Received messages are invisible to other consumers until acked,
	// nacked, or the visibility timeout elapses.
	Receive(ctx context.Context, queueName string, max int, wait time.Duration) ([]Message, error)

	// Ack removes a message permanently. Acking an unknown or already
	// re-delivered handle is a no-op.
	Ack(ctx context.Context, queueName, messageID string) error

	// Nack returns a message to the queue immediately. The receive count
	// it accumulated stands, so repeated nacks still drain to the DLQ.
	Nack(ctx context.Context, queueName, messageID string) error
}

// DLQReader exposes the dead-letter side of a broker for operator tooling.
type DLQReader interface {
	// ListDLQ returns a snapshot of dead-lettered messages for a queue.
	ListDLQ(queueName string) []Message

	// ReplayDLQ moves all dead-lettered messages back onto the main queue
	// with their receive counts reset. Returns the number moved.
	ReplayDLQ(ctx context.Context, queueName string) (int, error)

	// PurgeDLQ drops all dead-lettered messages for a queue. Returns the
	// number dropped.
	PurgeDLQ(queueName string) int
}
