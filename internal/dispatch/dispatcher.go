// Package dispatch runs a queue-consuming worker loop shared by the scrape
// and scoring stages: batched receives, a bounded concurrent handler pool,
// and ack/nack bookkeeping.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadflow/internal/metrics"
	"github.com/sells-group/leadflow/internal/queue"
)

// ErrDrop tells the dispatcher to ack a message it cannot ever process
// (payload invalid, referenced row deleted). Redelivery would fail the same
// way, so the message leaves the queue instead of draining to the DLQ.
var ErrDrop = errors.New("dispatch: drop message")

// Handler processes one message. Returning nil acks; ErrDrop acks with a
// warning; any other error nacks for redelivery.
type Handler func(ctx context.Context, msg queue.Message) error

// Config tunes a dispatcher.
type Config struct {
	// Stage names the dispatcher in logs and metrics.
	Stage string

	// Queue is the queue to consume.
	Queue string

	// BatchSize is the max messages per receive.
	BatchSize int

	// BatchWait is how long a receive waits for the first message.
	BatchWait time.Duration

	// MaxConcurrency bounds handlers in flight.
	MaxConcurrency int

	// TaskTimeout bounds each handler invocation. It must stay under the
	// broker's visibility timeout or finished work gets redelivered.
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.BatchWait <= 0 {
		c.BatchWait = 2 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = time.Minute
	}
	return c
}

// Dispatcher consumes one queue and fans messages out to a handler.
type Dispatcher struct {
	broker  queue.Broker
	handler Handler
	cfg     Config
	log     *zap.Logger
}

// New creates a Dispatcher.
func New(broker queue.Broker, handler Handler, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		log:     zap.L().With(zap.String("stage", cfg.Stage), zap.String("queue", cfg.Queue)),
	}
}

// Run consumes until the context is canceled. In-flight handlers finish
// before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started",
		zap.Int("max_concurrency", d.cfg.MaxConcurrency),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)

	for {
		msgs, err := d.broker.Receive(ctx, d.cfg.Queue, d.cfg.BatchSize, d.cfg.BatchWait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.log.Error("receive", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			// Shutdown raced the receive: return the batch for redelivery.
			for _, msg := range msgs {
				_ = d.broker.Nack(context.WithoutCancel(ctx), d.cfg.Queue, msg.ID)
			}
			break
		}

		for _, msg := range msgs {
			g.Go(func() error {
				d.process(gctx, msg)
				return nil
			})
		}
	}

	err := g.Wait()
	d.log.Info("dispatcher stopped")
	return err
}

func (d *Dispatcher) process(ctx context.Context, msg queue.Message) {
	start := time.Now()
	metrics.TasksInflight.WithLabelValues(d.cfg.Stage).Inc()
	defer metrics.TasksInflight.WithLabelValues(d.cfg.Stage).Dec()
	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	err := d.handler(taskCtx, msg)
	cancel()
	metrics.TaskDuration.WithLabelValues(d.cfg.Stage).Observe(time.Since(start).Seconds())

	// Ack/nack must land even when the task context expired.
	ackCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		metrics.TasksProcessed.WithLabelValues(d.cfg.Stage, "ok").Inc()
		if err := d.broker.Ack(ackCtx, d.cfg.Queue, msg.ID); err != nil {
			d.log.Error("ack", zap.String("message_id", msg.ID), zap.Error(err))
		}
	case errors.Is(err, ErrDrop):
		metrics.TasksProcessed.WithLabelValues(d.cfg.Stage, "dropped").Inc()
		d.log.Warn("dropping message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		if err := d.broker.Ack(ackCtx, d.cfg.Queue, msg.ID); err != nil {
			d.log.Error("ack", zap.String("message_id", msg.ID), zap.Error(err))
		}
	default:
		metrics.TasksProcessed.WithLabelValues(d.cfg.Stage, "error").Inc()
		d.log.Warn("task failed, returning message",
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(err),
		)
		if err := d.broker.Nack(ackCtx, d.cfg.Queue, msg.ID); err != nil {
			d.log.Error("nack", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}
