package queued

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/stretchr/testify/suite"
)

type rosterClose struct{}

func (rosterClose) Priority() int { return 10 }

type rosterOpen struct{}

func (rosterOpen) Priority() int { return 5 }

type symbolUpdate struct {
	symbol string
	value  int
}

func (u symbolUpdate) Key() string { return "symbol:" + u.symbol }

type QueuedTestSuite struct {
	suite.Suite
}

func TestQueuedSuite(t *testing.T) {
	suite.Run(t, new(QueuedTestSuite))
}

// gatedQueue returns a queue whose applier is blocked on the first update
// until the returned release func is called.
func (suite *QueuedTestSuite) gatedQueue() (*Queue[any], *[]any, func(), *sync.Mutex) {
	var mu sync.Mutex
	applied := []any{}
	gate := make(chan struct{})
	entered := make(chan struct{})
	first := true

	q := New[any](logger.NewNop(), "test", func(_ context.Context, u any) error {
		if first {
			first = false
			close(entered)
			<-gate
		}

		mu.Lock()
		applied = append(applied, u)
		mu.Unlock()

		return nil
	})
	q.Start(context.Background())

	q.AsyncUpdate("warmup")
	<-entered

	return q, &applied, func() { close(gate) }, &mu
}

func (suite *QueuedTestSuite) flush(q *Queue[any]) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	suite.Require().NoError(q.Flush(ctx))
}

func (suite *QueuedTestSuite) TestSameKeyLatestWins() {
	q, applied, release, mu := suite.gatedQueue()
	defer q.Close()

	q.AsyncUpdate(symbolUpdate{symbol: "AAA", value: 1})
	q.AsyncUpdate(symbolUpdate{symbol: "BBB", value: 1})
	q.AsyncUpdate(symbolUpdate{symbol: "AAA", value: 2})
	suite.Equal(2, q.Pending())

	release()
	suite.flush(q)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]any{
		"warmup",
		symbolUpdate{symbol: "BBB", value: 1},
		symbolUpdate{symbol: "AAA", value: 2},
	}, *applied)
	suite.Equal(int64(1), q.Dropped())
}

func (suite *QueuedTestSuite) TestHigherPriorityDropsLowerPending() {
	q, applied, release, mu := suite.gatedQueue()
	defer q.Close()

	q.AsyncUpdate(symbolUpdate{symbol: "AAA", value: 1})
	q.AsyncUpdate(rosterOpen{})
	q.AsyncUpdate(rosterClose{})

	release()
	suite.flush(q)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]any{"warmup", rosterClose{}}, *applied)
}

func (suite *QueuedTestSuite) TestPriorityThenArrivalOrder() {
	q, applied, release, mu := suite.gatedQueue()
	defer q.Close()

	q.AsyncUpdate(rosterClose{})
	q.AsyncUpdate(symbolUpdate{symbol: "AAA", value: 1})
	q.AsyncUpdate(symbolUpdate{symbol: "BBB", value: 1})

	release()
	suite.flush(q)

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]any{
		"warmup",
		rosterClose{},
		symbolUpdate{symbol: "AAA", value: 1},
		symbolUpdate{symbol: "BBB", value: 1},
	}, *applied)
}

func (suite *QueuedTestSuite) TestApplierSurvivesFailure() {
	var mu sync.Mutex
	var applied []int

	q := New[int](logger.NewNop(), "failing", func(_ context.Context, v int) error {
		if v == 1 {
			return errors.New("boom")
		}
		if v == 2 {
			panic("worse")
		}

		mu.Lock()
		applied = append(applied, v)
		mu.Unlock()

		return nil
	})
	q.Start(context.Background())
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// ints share a key, so wait between updates to keep each one
	for _, v := range []int{1, 2, 3} {
		q.AsyncUpdate(v)
		suite.Require().NoError(q.Flush(ctx))
	}

	mu.Lock()
	defer mu.Unlock()
	suite.Equal([]int{3}, applied)
}

func (suite *QueuedTestSuite) TestCloseAppliesPending() {
	var mu sync.Mutex
	var applied []string

	q := New[symbolUpdate](logger.NewNop(), "closing", func(_ context.Context, u symbolUpdate) error {
		mu.Lock()
		applied = append(applied, u.symbol)
		mu.Unlock()

		return nil
	})
	q.Start(context.Background())

	q.AsyncUpdate(symbolUpdate{symbol: "AAA"})
	q.AsyncUpdate(symbolUpdate{symbol: "BBB"})
	q.Close()

	q.AsyncUpdate(symbolUpdate{symbol: "CCC"})

	mu.Lock()
	defer mu.Unlock()
	suite.ElementsMatch([]string{"AAA", "BBB"}, applied)
}
