// Package queued coalesces bursty updates to a single object. One applier
// goroutine drains pending updates in priority-then-arrival order.
package queued

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"go.uber.org/zap"
)

// Prioritized updates declare a priority. Higher wins. Updates without one have priority 0.
type Prioritized interface {
	Priority() int
}

// Keyed updates declare a coalescing key. Updates without one are keyed by their dynamic type.
type Keyed interface {
	Key() string
}

type entry[T any] struct {
	update   T
	key      string
	priority int
	seq      uint64
}

// Queue holds pending updates for one target.
type Queue[T any] struct {
	name  string
	log   *logger.Logger
	apply func(ctx context.Context, update T) error

	mu       sync.Mutex
	pending  []entry[T]
	seq      uint64
	applying bool
	closed   bool
	waiters  []chan struct{}
	dropped  int64

	ready chan struct{}
	done  chan struct{}
}

// New creates a queue that calls apply for every surviving update.
func New[T any](log *logger.Logger, name string, apply func(ctx context.Context, update T) error) *Queue[T] {
	return &Queue[T]{
		name:     name,
		log:      log.Named("queued"),
		apply:    apply,
		mu:       sync.Mutex{},
		pending:  nil,
		seq:      0,
		applying: false,
		closed:   false,
		waiters:  nil,
		dropped:  0,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the applier until ctx is canceled or Close is called.
func (q *Queue[T]) Start(ctx context.Context) {
	go q.run(ctx)
}

// AsyncUpdate enqueues update. Pending updates with the same key, or with a
// lower priority, are dropped.
func (q *Queue[T]) AsyncUpdate(update T) {
	e := entry[T]{
		update:   update,
		key:      keyOf(update),
		priority: priorityOf(update),
		seq:      0,
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return
	}

	q.seq++
	e.seq = q.seq

	kept := q.pending[:0]
	for _, p := range q.pending {
		if p.key == e.key || p.priority < e.priority {
			q.dropped++

			continue
		}

		kept = append(kept, p)
	}

	q.pending = append(kept, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued updates.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Dropped returns how many updates were coalesced away.
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}

// Flush waits until every queued update has been applied.
func (q *Queue[T]) Flush(ctx context.Context) error {
	q.mu.Lock()
	if len(q.pending) == 0 && !q.applying {
		q.mu.Unlock()

		return nil
	}

	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies what is pending and stops the applier.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}

	<-q.done
}

func (q *Queue[T]) next() (entry[T], bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return entry[T]{}, false, q.closed
	}

	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].priority != q.pending[j].priority {
			return q.pending[i].priority > q.pending[j].priority
		}

		return q.pending[i].seq < q.pending[j].seq
	})

	e := q.pending[0]
	q.pending = q.pending[1:]
	q.applying = true

	return e, true, false
}

func (q *Queue[T]) run(ctx context.Context) {
	defer close(q.done)

	for {
		e, ok, closed := q.next()
		if ok {
			q.applyOne(ctx, e)

			q.mu.Lock()
			q.applying = false
			idle := len(q.pending) == 0
			var waiters []chan struct{}
			if idle {
				waiters = q.waiters
				q.waiters = nil
			}
			q.mu.Unlock()

			for _, ch := range waiters {
				close(ch)
			}

			continue
		}

		if closed {
			return
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue[T]) applyOne(ctx context.Context, e entry[T]) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queued update panicked",
				zap.String("queue", q.name),
				zap.String("key", e.key),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := q.apply(ctx, e.update); err != nil {
		q.log.Error("queued update failed",
			zap.String("queue", q.name),
			zap.String("key", e.key),
			zap.Error(err),
		)
	}
}

func keyOf(update any) string {
	if k, ok := update.(Keyed); ok {
		return k.Key()
	}

	return fmt.Sprintf("%T", update)
}

func priorityOf(update any) int {
	if p, ok := update.(Prioritized); ok {
		return p.Priority()
	}

	return 0
}
