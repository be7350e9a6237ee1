package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/metrics"
)

// MemoryConfig tunes the in-process broker.
type MemoryConfig struct {
	// VisibilityTimeout is how long a received message stays invisible
	// before redelivery. Default 15m.
	VisibilityTimeout time.Duration

	// MaxReceiveCount is the delivery attempt ceiling before a message
	// moves to the DLQ. Default 3.
	MaxReceiveCount int

	// Depth caps the number of ready+inflight messages per queue. Default
	// 4096.
	Depth int
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 15 * time.Minute
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 3
	}
	if c.Depth <= 0 {
		c.Depth = 4096
	}
	return c
}

// Memory is an in-process Broker with per-queue FIFO ordering, visibility
// timeouts, and paired DLQs. All pipeline stages in a single process share
// one instance.
type Memory struct {
	cfg MemoryConfig

	mu     sync.Mutex
	queues map[string]*memQueue

	stop     chan struct{}
	stopOnce sync.Once
}

type memQueue struct {
	ready    *list.List          // of *memMessage
	inflight map[string]*memMessage
	dlq      *list.List // of *memMessage
	notify   chan struct{}
}

type memMessage struct {
	msg        Message
	invisibleT time.Time
}

// NewMemory creates the broker and starts its redelivery sweeper. Close
// stops the sweeper.
func NewMemory(cfg MemoryConfig) *Memory {
	m := &Memory{
		cfg:    cfg.withDefaults(),
		queues: make(map[string]*memQueue),
		stop:   make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Close stops the redelivery sweeper. Pending messages are dropped with the
// process; durability across restarts is out of scope for this broker.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) queue(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{
			ready:    list.New(),
			inflight: make(map[string]*memMessage),
			dlq:      list.New(),
			notify:   make(chan struct{}, 1),
		}
		m.queues[name] = q
	}
	return q
}

// Publish enqueues a payload, blocking while the queue is at depth.
func (m *Memory) Publish(ctx context.Context, queueName string, body []byte) error {
	for {
		m.mu.Lock()
		q := m.queue(queueName)
		if q.ready.Len()+len(q.inflight) < m.cfg.Depth {
			bodyCopy := make([]byte, len(body))
			copy(bodyCopy, body)
			q.ready.PushBack(&memMessage{msg: Message{
				ID:         uuid.NewString(),
				Queue:      queueName,
				Body:       bodyCopy,
				EnqueuedAt: time.Now(),
			}})
			m.signalLocked(q)
			m.mu.Unlock()
			metrics.QueuePublished.WithLabelValues(queueName).Inc()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ErrQueueFull
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Receive returns up to max ready messages, waiting up to wait for the
// first one to arrive.
func (m *Memory) Receive(ctx context.Context, queueName string, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		m.mu.Lock()
		q := m.queue(queueName)
		msgs := m.takeLocked(q, max)
		notify := q.notify
		m.mu.Unlock()

		if len(msgs) > 0 {
			metrics.QueueReceived.WithLabelValues(queueName).Add(float64(len(msgs)))
			return msgs, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
			timer.Stop()
		}
	}
}

func (m *Memory) takeLocked(q *memQueue, max int) []Message {
	var out []Message
	now := time.Now()
	for q.ready.Len() > 0 && len(out) < max {
		front := q.ready.Front()
		mm := front.Value.(*memMessage)
		q.ready.Remove(front)

		mm.msg.ReceiveCount++
		mm.invisibleT = now.Add(m.cfg.VisibilityTimeout)
		q.inflight[mm.msg.ID] = mm
		out = append(out, mm.msg)
	}
	return out
}

// Ack deletes a message. Unknown IDs are ignored: the message may already
// have been redelivered and acked by another consumer.
func (m *Memory) Ack(_ context.Context, queueName, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	if _, ok := q.inflight[messageID]; ok {
		delete(q.inflight, messageID)
		metrics.QueueAcked.WithLabelValues(queueName).Inc()
	}
	return nil
}

// Nack makes a message immediately redeliverable, or dead-letters it when
// its receive count is exhausted.
func (m *Memory) Nack(_ context.Context, queueName, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	mm, ok := q.inflight[messageID]
	if !ok {
		return nil
	}
	delete(q.inflight, messageID)
	metrics.QueueNacked.WithLabelValues(queueName).Inc()
	m.requeueLocked(queueName, q, mm)
	return nil
}

// requeueLocked puts an inflight message back on ready, or moves it to the
// DLQ when it has hit the receive ceiling.
func (m *Memory) requeueLocked(queueName string, q *memQueue, mm *memMessage) {
	if mm.msg.ReceiveCount >= m.cfg.MaxReceiveCount {
		q.dlq.PushBack(mm)
		metrics.QueueDeadLettered.WithLabelValues(queueName).Inc()
		zap.L().Warn("message dead-lettered",
			zap.String("queue", queueName),
			zap.String("message_id", mm.msg.ID),
			zap.Int("receive_count", mm.msg.ReceiveCount),
		)
		return
	}
	q.ready.PushFront(mm)
	m.signalLocked(q)
}

func (m *Memory) signalLocked(q *memQueue) {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// sweep redelivers inflight messages whose visibility timeout expired.
func (m *Memory) sweep() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.redeliverExpired()
			m.refreshDepthGauges()
		}
	}
}

func (m *Memory) refreshDepthGauges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, q := range m.queues {
		metrics.QueueDepth.WithLabelValues(name).Set(float64(q.ready.Len()))
	}
}

func (m *Memory) redeliverExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for name, q := range m.queues {
		for id, mm := range q.inflight {
			if now.After(mm.invisibleT) {
				delete(q.inflight, id)
				metrics.QueueExpired.WithLabelValues(name).Inc()
				m.requeueLocked(name, q, mm)
			}
		}
	}
}

// ListDLQ returns a snapshot of dead-lettered messages.
func (m *Memory) ListDLQ(queueName string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	out := make([]Message, 0, q.dlq.Len())
	for e := q.dlq.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*memMessage).msg)
	}
	return out
}

// ReplayDLQ moves dead-lettered messages back onto the main queue with
// reset receive counts.
func (m *Memory) ReplayDLQ(_ context.Context, queueName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	n := 0
	for q.dlq.Len() > 0 {
		front := q.dlq.Front()
		mm := front.Value.(*memMessage)
		q.dlq.Remove(front)
		mm.msg.ReceiveCount = 0
		q.ready.PushBack(mm)
		n++
	}
	if n > 0 {
		m.signalLocked(q)
	}
	return n, nil
}

// PurgeDLQ drops all dead-lettered messages for a queue.
func (m *Memory) PurgeDLQ(queueName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	n := q.dlq.Len()
	q.dlq.Init()
	return n
}

// Depth reports ready and inflight counts for a queue. Used by readiness
// and the metrics gauge refresh.
func (m *Memory) Depth(queueName string) (ready, inflight, dead int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue(queueName)
	return q.ready.Len(), len(q.inflight), q.dlq.Len()
}
