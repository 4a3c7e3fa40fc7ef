package enricher

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-live/internal/bus"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/mocks"
	"github.com/stretchr/testify/suite"
)

type EnricherTestSuite struct {
	suite.Suite
	bus *bus.Bus
	ctx context.Context
}

func TestEnricherSuite(t *testing.T) {
	suite.Run(t, new(EnricherTestSuite))
}

func (suite *EnricherTestSuite) SetupTest() {
	suite.bus = bus.New(logger.NewNop())
	suite.ctx = context.Background()
}

func (suite *EnricherTestSuite) TearDownTest() {
	suite.bus.Close()
}

func bar(symbol string, i int) types.Bar {
	c := 100 + float64(i)

	return types.Bar{
		Symbol: symbol,
		Time:   time.Date(2024, 1, 2, 14, 30+i, 0, 0, time.UTC),
		Open:   c,
		High:   c + 1,
		Low:    c - 1,
		Close:  c,
		Volume: 1000,
	}
}

func (suite *EnricherTestSuite) TestWindowRaisedToLookback() {
	e := New(logger.NewNop(), suite.bus, nil, Options{WindowSize: 10})
	suite.Equal(200, e.size)
	suite.Len(e.Columns(), 47)
}

func (suite *EnricherTestSuite) TestEnrichNaNUntilWarm() {
	e := New(logger.NewNop(), suite.bus, nil, Options{})

	var last types.EnrichedBar
	for i := 0; i < 10; i++ {
		last = e.Enrich(bar("AAA", i))
	}

	suite.Equal(109.0, last.Value(types.ColumnClose))
	suite.InDelta(104.5, last.Value(types.SMAColumn(10)), 1e-9)
	suite.True(math.IsNaN(last.Value(types.SMAColumn(20))))
	suite.False(last.Ready(types.ColumnRSI14))

	latest, ok := e.Latest("AAA")
	suite.True(ok)
	suite.Equal(last.Time, latest.Time)
}

func (suite *EnricherTestSuite) TestPublishesEnrichedBarsPerSymbol() {
	unbounded := bus.Unbounded()
	e := New(logger.NewNop(), suite.bus, nil, Options{Policy: &unbounded})
	suite.Require().NoError(e.Start(suite.ctx, []string{"AAA", "BBB"}))

	var mu sync.Mutex
	got := map[string][]float64{}
	collect := func(_ context.Context, b types.EnrichedBar) error {
		mu.Lock()
		defer mu.Unlock()
		got[b.Symbol] = append(got[b.Symbol], b.Value(types.ColumnClose))

		return nil
	}

	subA := bus.Subscribe(suite.bus, bus.EnrichedTopic("AAA"), "test.a", collect, bus.WithPolicy(bus.Unbounded()))
	subB := bus.Subscribe(suite.bus, bus.EnrichedTopic("BBB"), "test.b", collect, bus.WithPolicy(bus.Unbounded()))

	for i := 0; i < 3; i++ {
		bus.Publish(suite.ctx, suite.bus, bus.BarTopic("AAA"), bar("AAA", i))
	}

	bus.Publish(suite.ctx, suite.bus, bus.BarTopic("BBB"), bar("BBB", 7))

	ctx, cancel := context.WithTimeout(suite.ctx, 2*time.Second)
	defer cancel()

	suite.Require().NoError(e.Drain(ctx))
	suite.Require().NoError(subA.Drain(ctx))
	suite.Require().NoError(subB.Drain(ctx))

	mu.Lock()
	suite.Equal([]float64{100, 101, 102}, got["AAA"])
	suite.Equal([]float64{107}, got["BBB"])
	mu.Unlock()

	suite.Equal([]string{"AAA", "BBB"}, e.Symbols())
	suite.Require().NoError(e.Stop(ctx))
	suite.Empty(e.Symbols())

	_, ok := e.Latest("AAA")
	suite.False(ok)
}

func (suite *EnricherTestSuite) TestEndOfStreamResetsState() {
	e := New(logger.NewNop(), suite.bus, nil, Options{})

	for i := 0; i < 5; i++ {
		e.Enrich(bar("AAA", i))
	}

	suite.NoError(e.OnBar(suite.ctx, types.EndOfStreamBar("AAA", time.Now().UTC())))

	_, ok := e.Latest("AAA")
	suite.False(ok)

	fresh := e.Enrich(bar("AAA", 5))
	suite.InDelta(0.0, fresh.Value(types.ColumnOBV), 1e-9)
	suite.True(math.IsNaN(fresh.Value(types.ColumnReturn1)))
}

func (suite *EnricherTestSuite) TestRestartDropsSymbols() {
	e := New(logger.NewNop(), suite.bus, nil, Options{})
	suite.Require().NoError(e.Start(suite.ctx, []string{"AAA", "BBB"}))
	e.Enrich(bar("BBB", 0))

	e.Restart([]string{"AAA", "CCC"})

	suite.Equal([]string{"AAA", "CCC"}, e.Symbols())
	suite.Equal(0, suite.bus.SubscriberCount("bars.BBB"))
	suite.Equal(1, suite.bus.SubscriberCount("bars.CCC"))

	_, ok := e.Latest("BBB")
	suite.False(ok)

	suite.Error(e.Start(suite.ctx, []string{"AAA"}))
}

func (suite *EnricherTestSuite) TestGeneratedSeriesWarmsEveryIndicator() {
	e := New(logger.NewNop(), suite.bus, nil, Options{})

	config := mocks.DefaultConfig()
	config.Count = 250

	var last types.EnrichedBar
	for _, b := range mocks.NewDataGenerator(42).Generate(config) {
		last = e.Enrich(b)
	}

	for _, column := range []types.Column{
		types.SMAColumn(200),
		types.ColumnMACDSignal,
		types.ColumnRSI14,
		types.ColumnATR14,
		types.ColumnBBUpper,
		types.ColumnADX14,
		types.ColumnVolatility,
	} {
		suite.True(last.Ready(column), column)
	}

	suite.Equal(float64(last.Bar.TradeCount), last.Value(types.ColumnTradeCount))
}

func BenchmarkEnrich(b *testing.B) {
	e := New(logger.NewNop(), bus.New(logger.NewNop()), nil, Options{})
	bars := mocks.Generate10K("BENCH")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		e.Enrich(bars[i%len(bars)])
	}
}
