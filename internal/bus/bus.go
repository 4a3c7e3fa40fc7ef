// Package bus is an in-process typed broadcast bus. Every subscription owns a
// goroutine and a bounded queue, so a slow subscriber never blocks the
// publisher or its siblings unless its policy asks for it.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"go.uber.org/zap"
)

// Bus delivers published payloads to every current subscriber of a topic.
type Bus struct {
	log *logger.Logger

	mu     sync.RWMutex
	subs   map[string][]*Subscriber
	nextID atomic.Uint64
	closed bool
}

// New creates an empty bus.
func New(log *logger.Logger) *Bus {
	return &Bus{
		log:    log.Named("bus"),
		mu:     sync.RWMutex{},
		subs:   make(map[string][]*Subscriber),
		nextID: atomic.Uint64{},
		closed: false,
	}
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	policy    Policy
	hasPolicy bool
}

// WithPolicy overrides the topic's default queue policy.
func WithPolicy(policy Policy) SubscribeOption {
	return func(o *subscribeOptions) {
		o.policy = policy
		o.hasPolicy = true
	}
}

// Subscribe registers fn for every payload published on topic from now on.
// name identifies the subscriber in logs.
func Subscribe[T any](b *Bus, topic Topic[T], name string, fn func(ctx context.Context, msg T) error, opts ...SubscribeOption) *Subscriber {
	options := subscribeOptions{policy: topic.DefaultPolicy(), hasPolicy: false}
	for _, opt := range opts {
		opt(&options)
	}

	handler := func(ctx context.Context, msg any) error {
		typed, ok := msg.(T)
		if !ok {
			return nil
		}

		return fn(ctx, typed)
	}

	sub := newSubscriber(b, b.nextID.Add(1), topic.Name(), name, options.policy, handler)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.inert()

		return sub
	}

	b.subs[topic.Name()] = append(b.subs[topic.Name()], sub)
	b.mu.Unlock()

	go sub.run()

	return sub
}

// Publish delivers msg to every subscriber of topic. It blocks only for
// subscribers with a BoundedBlock policy whose queue is full.
func Publish[T any](ctx context.Context, b *Bus, topic Topic[T], msg T) {
	b.mu.RLock()
	subs := b.subs[topic.Name()]
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.offer(ctx, msg)
	}
}

// SubscriberCount returns the number of live subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[topic])
}

// Unsubscribe stops delivery to sub and waits for its in-flight callback.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)

			break
		}
	}

	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	b.mu.Unlock()

	sub.stop()
}

// Close unsubscribes everyone. Later subscriptions are inert.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	all := b.subs
	b.subs = make(map[string][]*Subscriber)
	b.mu.Unlock()

	for _, list := range all {
		for _, sub := range list {
			sub.stop()
		}
	}
}

func (b *Bus) logDrop(sub *Subscriber, reason string) {
	b.log.Debug("dropped message",
		zap.String("topic", sub.topic),
		zap.String("subscriber", sub.name),
		zap.String("reason", reason),
	)
}
