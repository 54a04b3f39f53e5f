package ack

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultDrainInterval = 250 * time.Millisecond

// RetrierMetrics exposes queue observability hooks.
type RetrierMetrics interface {
	ObserveAckQueueDepth(int)
	ObserveAckLatency(float64)
	ObserveAckQueueFailure()
	ObserveAckQueueBlocked()
}

// RetrierOptions configure RetryingPublisher.
type RetrierOptions struct {
	Queue    Queue
	Backend  Publisher
	Metrics  RetrierMetrics
	Logger   *zap.Logger
	Interval time.Duration
}

// RetryingPublisher puts every record in a durable outbox first and ships it
// from a background drainer. Publish only fails when the outbox does, so a
// broker outage never reaches the moderation path.
type RetryingPublisher struct {
	queue    Queue
	backend  Publisher
	metrics  RetrierMetrics
	logger   *zap.Logger
	interval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewRetryingPublisher starts the drainer; records queued by an earlier run
// are shipped first.
func NewRetryingPublisher(opts RetrierOptions) (*RetryingPublisher, error) {
	if opts.Queue == nil {
		return nil, errors.New("ack retrier: queue required")
	}
	if opts.Backend == nil {
		return nil, errors.New("ack retrier: backend required")
	}
	r := &RetryingPublisher{
		queue:    opts.Queue,
		backend:  opts.Backend,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		interval: opts.Interval,
		done:     make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = defaultDrainInterval
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	return r, nil
}

// Publish stores payload in the outbox.
func (r *RetryingPublisher) Publish(ctx context.Context, payload Payload) error {
	_, err := r.queue.Enqueue(ctx, payload)
	switch {
	case err == nil:
		r.reportDepth(ctx)
		return nil
	case errors.Is(err, ErrQueueFull):
		r.observe(func(m RetrierMetrics) { m.ObserveAckQueueBlocked() })
	default:
		r.observe(func(m RetrierMetrics) { m.ObserveAckQueueFailure() })
	}
	r.logger.Error("audit record dropped", zap.String("record_id", payload.ID), zap.Error(err))
	return err
}

func (r *RetryingPublisher) run(ctx context.Context) {
	defer close(r.done)
	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-r.queue.Notify():
		case <-tick.C:
		}
	}
}

// drain ships records oldest first until the outbox is empty or the head
// record fails, in which case it waits one interval and tries the head again.
func (r *RetryingPublisher) drain(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		id, payload, err := r.queue.Peek(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			return
		}
		if err != nil {
			r.observe(func(m RetrierMetrics) { m.ObserveAckQueueFailure() })
			r.logger.Error("audit outbox unreadable", zap.Error(err))
			return
		}

		attempt++
		payload.AckedAt = time.Now().UTC()
		if err := r.backend.Publish(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.observe(func(m RetrierMetrics) { m.ObserveAckQueueFailure() })
			r.logger.Warn("audit record not delivered, will retry",
				zap.String("record_id", payload.ID),
				zap.String("guild_id", string(payload.GuildID)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !r.sleep(ctx) {
				return
			}
			continue
		}

		attempt = 0
		if err := r.queue.Delete(ctx, id); err != nil {
			r.observe(func(m RetrierMetrics) { m.ObserveAckQueueFailure() })
			r.logger.Warn("delivered audit record left in outbox", zap.Uint64("queue_id", id), zap.Error(err))
		}
		r.reportDepth(ctx)
		if !payload.AppliedAt.IsZero() {
			if lag := payload.AckedAt.Sub(payload.AppliedAt).Seconds(); lag >= 0 {
				r.observe(func(m RetrierMetrics) { m.ObserveAckLatency(lag) })
			}
		}
	}
}

func (r *RetryingPublisher) sleep(ctx context.Context) bool {
	t := time.NewTimer(r.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *RetryingPublisher) reportDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if n, err := r.queue.Len(ctx); err == nil {
		r.metrics.ObserveAckQueueDepth(n)
	}
}

func (r *RetryingPublisher) observe(fn func(RetrierMetrics)) {
	if r.metrics != nil {
		fn(r.metrics)
	}
}

// Close stops the drainer and closes the outbox. Undelivered records stay
// queued for the next start.
func (r *RetryingPublisher) Close(ctx context.Context) error {
	r.closeOnce.Do(r.cancel)
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.queue.Close()
}
