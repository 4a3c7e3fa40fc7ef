package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

// Stats is a point-in-time view of a subscription's counters.
type Stats struct {
	Delivered int64
	Dropped   int64
	Failed    int64
	Pending   int
}

// Subscriber is one endpoint on a topic with its own FIFO queue.
type Subscriber struct {
	bus     *Bus
	id      uint64
	topic   string
	name    string
	policy  Policy
	handler func(ctx context.Context, msg any) error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []any
	busy    bool
	closed  bool
	waiters []chan struct{}

	ready   chan struct{}
	space   chan struct{}
	stopped chan struct{}
	done    chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func newSubscriber(b *Bus, id uint64, topic, name string, policy Policy, handler func(context.Context, any) error) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())

	return &Subscriber{
		bus:       b,
		id:        id,
		topic:     topic,
		name:      name,
		policy:    policy,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		mu:        sync.Mutex{},
		queue:     nil,
		busy:      false,
		closed:    false,
		waiters:   nil,
		ready:     make(chan struct{}, 1),
		space:     make(chan struct{}, 1),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		delivered: atomic.Int64{},
		dropped:   atomic.Int64{},
		failed:    atomic.Int64{},
	}
}

// Topic returns the subscribed topic name.
func (s *Subscriber) Topic() string {
	return s.topic
}

// Name returns the subscriber name.
func (s *Subscriber) Name() string {
	return s.name
}

// Stats returns the subscription counters.
func (s *Subscriber) Stats() Stats {
	s.mu.Lock()
	pending := len(s.queue)
	s.mu.Unlock()

	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
		Pending:   pending,
	}
}

// Unsubscribe stops future delivery and waits for the in-flight callback.
func (s *Subscriber) Unsubscribe() {
	s.bus.Unsubscribe(s)
}

// Drain blocks until the queue is empty and no callback is running.
func (s *Subscriber) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || (len(s.queue) == 0 && !s.busy) {
		s.mu.Unlock()

		return nil
	}

	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(errors.ErrCodeCanceled, ctx.Err(), "drain %s on %s", s.name, s.topic)
	}
}

func (s *Subscriber) offer(ctx context.Context, msg any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	switch s.policy.kind {
	case policyLatestWins:
		for len(s.queue) >= s.policy.size {
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.dropped.Add(1)
		}
	case policyBoundedBlock:
		if !s.waitForSpace(ctx) {
			s.mu.Unlock()
			s.dropped.Add(1)
			s.bus.log.Warn("subscriber queue full, dropping message",
				zap.String("topic", s.topic),
				zap.String("subscriber", s.name),
				zap.Duration("timeout", s.policy.timeout),
			)

			return
		}
	case policyUnbounded:
	}

	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// waitForSpace is called with s.mu held and returns with it held.
func (s *Subscriber) waitForSpace(ctx context.Context) bool {
	if len(s.queue) < s.policy.size {
		return true
	}

	timer := time.NewTimer(s.policy.timeout)
	defer timer.Stop()

	for len(s.queue) >= s.policy.size {
		s.mu.Unlock()

		select {
		case <-s.space:
		case <-timer.C:
			s.mu.Lock()

			return len(s.queue) < s.policy.size && !s.closed
		case <-ctx.Done():
			s.mu.Lock()

			return false
		case <-s.stopped:
			s.mu.Lock()

			return false
		}

		s.mu.Lock()
		if s.closed {
			return false
		}
	}

	return true
}

func (s *Subscriber) next() (any, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()

			return nil, false
		}

		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.busy = true
			s.mu.Unlock()

			select {
			case s.space <- struct{}{}:
			default:
			}

			return msg, true
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.stopped:
		}
	}
}

func (s *Subscriber) run() {
	defer close(s.done)

	for {
		msg, ok := s.next()
		if !ok {
			s.releaseWaiters()

			return
		}

		s.deliver(msg)

		s.mu.Lock()
		s.busy = false
		idle := len(s.queue) == 0
		s.mu.Unlock()

		if idle {
			s.releaseWaiters()
		}
	}
}

func (s *Subscriber) deliver(msg any) {
	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.bus.log.Error("subscriber panicked",
				zap.String("topic", s.topic),
				zap.String("subscriber", s.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := s.handler(s.ctx, msg); err != nil {
		s.failed.Add(1)
		s.bus.log.Error("subscriber callback failed",
			zap.String("topic", s.topic),
			zap.String("subscriber", s.name),
			zap.Error(err),
		)

		return
	}

	s.delivered.Add(1)
}

func (s *Subscriber) releaseWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// stop closes the subscription, discards pending items and waits for the
// delivery goroutine to exit. It must not be called from the subscriber's
// own callback.
func (s *Subscriber) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.queue = nil
		close(s.stopped)
	}
	s.mu.Unlock()

	<-s.done
	s.cancel()
}

// inert marks a subscriber that was never started.
func (s *Subscriber) inert() {
	s.mu.Lock()
	s.closed = true
	close(s.stopped)
	s.mu.Unlock()

	close(s.done)
	s.cancel()
}
