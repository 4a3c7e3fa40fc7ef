package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/stretchr/testify/suite"
)

type BusTestSuite struct {
	suite.Suite
	bus *Bus
	ctx context.Context
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusTestSuite))
}

func (suite *BusTestSuite) SetupTest() {
	suite.bus = New(logger.NewNop())
	suite.ctx = context.Background()
}

func (suite *BusTestSuite) TearDownTest() {
	suite.bus.Close()
}

func (suite *BusTestSuite) drain(sub *Subscriber) {
	ctx, cancel := context.WithTimeout(suite.ctx, 2*time.Second)
	defer cancel()

	suite.Require().NoError(sub.Drain(ctx))
}

func (suite *BusTestSuite) TestFanOutToEverySubscriber() {
	topic := NewTopic[int]("numbers", Unbounded())

	var mu sync.Mutex
	got := map[string][]int{}
	record := func(name string) func(context.Context, int) error {
		return func(_ context.Context, v int) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], v)

			return nil
		}
	}

	a := Subscribe(suite.bus, topic, "a", record("a"))
	b := Subscribe(suite.bus, topic, "b", record("b"))

	for i := 1; i <= 5; i++ {
		Publish(suite.ctx, suite.bus, topic, i)
	}

	suite.drain(a)
	suite.drain(b)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]int{1, 2, 3, 4, 5}, got["a"])
	suite.Equal([]int{1, 2, 3, 4, 5}, got["b"])
	suite.Equal(2, suite.bus.SubscriberCount("numbers"))
}

func (suite *BusTestSuite) TestLatestWinsCoalescesBurst() {
	topic := BarTopic("AAA")

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	var mu sync.Mutex
	var processed []float64

	sub := Subscribe(suite.bus, topic, "enricher", func(_ context.Context, bar types.Bar) error {
		select {
		case entered <- struct{}{}:
			<-gate
		default:
		}

		mu.Lock()
		processed = append(processed, bar.Close)
		mu.Unlock()

		return nil
	})

	// first bar occupies the callback so the burst queues behind it
	Publish(suite.ctx, suite.bus, topic, types.Bar{Symbol: "AAA", Close: 0})
	<-entered

	for i := 1; i <= 50; i++ {
		Publish(suite.ctx, suite.bus, topic, types.Bar{Symbol: "AAA", Close: float64(i)})
	}

	close(gate)
	suite.drain(sub)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]float64{0, 50}, processed)
	suite.Equal(int64(49), sub.Stats().Dropped)
	suite.Equal(int64(2), sub.Stats().Delivered)
}

func (suite *BusTestSuite) TestLatestWinsMemoryBounded() {
	topic := NewTopic[int]("ticks", LatestWins(1))
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	sub := Subscribe(suite.bus, topic, "slow", func(_ context.Context, _ int) error {
		select {
		case entered <- struct{}{}:
			<-gate
		default:
		}

		return nil
	})

	Publish(suite.ctx, suite.bus, topic, 0)
	<-entered

	for i := 0; i < 10_000; i++ {
		Publish(suite.ctx, suite.bus, topic, i)
		suite.LessOrEqual(sub.Stats().Pending, 1)
	}

	close(gate)
	suite.drain(sub)
}

func (suite *BusTestSuite) TestBoundedBlockDropsAfterTimeout() {
	topic := NewTopic[int]("blocking", Unbounded())
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)

	var count atomic.Int64
	sub := Subscribe(suite.bus, topic, "blocked", func(_ context.Context, _ int) error {
		select {
		case entered <- struct{}{}:
			<-gate
		default:
		}
		count.Add(1)

		return nil
	}, WithPolicy(BoundedBlock(1, 20*time.Millisecond)))

	Publish(suite.ctx, suite.bus, topic, 1)
	<-entered
	Publish(suite.ctx, suite.bus, topic, 2) // fills the queue

	start := time.Now()
	Publish(suite.ctx, suite.bus, topic, 3) // waits then drops
	suite.GreaterOrEqual(time.Since(start), 20*time.Millisecond)

	close(gate)
	suite.drain(sub)

	suite.Equal(int64(2), count.Load())
	suite.Equal(int64(1), sub.Stats().Dropped)
}

func (suite *BusTestSuite) TestFailingSubscriberIsolated() {
	topic := NewTopic[string]("signals", Unbounded())

	var good atomic.Int64
	bad := Subscribe(suite.bus, topic, "panics", func(_ context.Context, msg string) error {
		if msg == "boom" {
			panic("strategy exploded")
		}

		return errors.New("always fails")
	})
	ok := Subscribe(suite.bus, topic, "works", func(_ context.Context, _ string) error {
		good.Add(1)

		return nil
	})

	Publish(suite.ctx, suite.bus, topic, "boom")
	Publish(suite.ctx, suite.bus, topic, "fine")

	suite.drain(bad)
	suite.drain(ok)

	suite.Equal(int64(2), good.Load())
	suite.Equal(int64(2), bad.Stats().Failed)
	suite.Equal(int64(0), bad.Stats().Delivered)
}

func (suite *BusTestSuite) TestUnsubscribeWaitsForInFlight() {
	topic := NewTopic[int]("work", Unbounded())
	entered := make(chan struct{})
	release := make(chan struct{})

	var finished atomic.Bool
	sub := Subscribe(suite.bus, topic, "worker", func(_ context.Context, _ int) error {
		close(entered)
		<-release
		finished.Store(true)

		return nil
	})

	Publish(suite.ctx, suite.bus, topic, 1)
	<-entered

	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		suite.Fail("unsubscribe returned before in-flight delivery finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	suite.True(finished.Load())
	suite.Equal(0, suite.bus.SubscriberCount("work"))

	// further publishes are ignored
	Publish(suite.ctx, suite.bus, topic, 2)
	suite.Equal(int64(1), sub.Stats().Delivered)
}

func (suite *BusTestSuite) TestDeliveredIsPrefixOfPublished() {
	topic := NewTopic[int]("ordered", LatestWins(4))

	var mu sync.Mutex
	var seen []int
	sub := Subscribe(suite.bus, topic, "ordered", func(_ context.Context, v int) error {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()

		return nil
	})

	for i := 0; i < 500; i++ {
		Publish(suite.ctx, suite.bus, topic, i)
	}

	suite.drain(sub)

	mu.Lock()
	defer mu.Unlock()
	suite.NotEmpty(seen)
	for i := 1; i < len(seen); i++ {
		suite.Greater(seen[i], seen[i-1])
	}
	suite.Equal(499, seen[len(seen)-1])
}

func (suite *BusTestSuite) TestSubscribeAfterCloseIsInert() {
	suite.bus.Close()

	sub := Subscribe(suite.bus, NewTopic[int]("late", Unbounded()), "late", func(_ context.Context, _ int) error {
		return nil
	})

	Publish(suite.ctx, suite.bus, NewTopic[int]("late", Unbounded()), 1)
	suite.NoError(sub.Drain(suite.ctx))
	suite.Equal(int64(0), sub.Stats().Delivered)
}

func (suite *BusTestSuite) TestTopicDefaults() {
	suite.Equal("latest_wins", BarTopic("AAA").DefaultPolicy().String())
	suite.Equal(1, EnrichedTopic("AAA").DefaultPolicy().Size())
	suite.Equal("unbounded", OrderEventTopic().DefaultPolicy().String())
	suite.Equal("bars.AAA", BarTopic("AAA").Name())
}
