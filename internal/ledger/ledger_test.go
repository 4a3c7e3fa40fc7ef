package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type LedgerTestSuite struct {
	suite.Suite
	ledger *Ledger
	at     time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	suite.ledger = New(logger.NewNop())
	suite.at = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	suite.ledger.StartSession(types.Account{
		ID:          "acct",
		Status:      "ACTIVE",
		Cash:        decimal.NewFromInt(10_000),
		BuyingPower: decimal.NewFromInt(20_000),
		Equity:      decimal.NewFromInt(10_000),
	}, nil)
}

func order(clientOrderID, symbol string, side types.OrderSide, qty float64) types.Order {
	//nolint:exhaustruct
	return types.Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          types.OrderTypeMarket,
		TimeInForce:   types.TimeInForceDay,
		Status:        types.OrderStatusNew,
		Qty:           qty,
		Price:         optional.None[float64](),
	}
}

func (suite *LedgerTestSuite) assertCashIdentity() {
	snap := suite.ledger.Snapshot()
	suite.True(snap.AvailableCash.Add(snap.ReservedCash).Equal(snap.TotalCash),
		"available %s + reserved %s != total %s", snap.AvailableCash, snap.ReservedCash, snap.TotalCash)
	suite.False(snap.AvailableCash.IsNegative())
}

func (suite *LedgerTestSuite) TestSingleBuyFillsCleanly() {
	o := order("H1", "AAA", types.OrderSideBuy, 100)

	suite.Require().NoError(suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(10_000), 100))
	suite.Require().NoError(suite.ledger.SetInFlight(o))
	suite.True(suite.ledger.Available().IsZero())
	suite.assertCashIdentity()

	suite.ledger.ApplyFill(o, 100, 100, suite.at)
	suite.ledger.Release("H1")
	suite.True(suite.ledger.ClearInFlight("AAA", "H1"))

	suite.Equal(100.0, suite.ledger.Position("AAA").Qty)
	suite.True(suite.ledger.Available().IsZero())
	suite.True(suite.ledger.InFlight("AAA").IsNone())
	suite.assertCashIdentity()
}

func (suite *LedgerTestSuite) TestReserveIsIdempotent() {
	suite.Require().NoError(suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(4_000), 40))
	suite.Require().NoError(suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(4_000), 40))

	suite.Equal("6000", suite.ledger.Available().String())
	suite.Equal("4000", suite.ledger.Reserved("H1").String())
	suite.assertCashIdentity()
}

func (suite *LedgerTestSuite) TestReserveRejectsOverspend() {
	err := suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(10_001), 1)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientCash))
	suite.Equal("10000", suite.ledger.Available().String())

	err = suite.ledger.Reserve("H2", "AAA", decimal.NewFromInt(-1), 1)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *LedgerTestSuite) TestPartialFillReleasesProportionalShare() {
	o := order("H1", "AAA", types.OrderSideBuy, 100)
	suite.Require().NoError(suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(5_000), 100))
	suite.Require().NoError(suite.ledger.SetInFlight(o))

	suite.ledger.ApplyFill(o, 40, 50, suite.at)
	suite.Equal("3000", suite.ledger.Reserved("H1").String())
	suite.Equal("8000", suite.ledger.Snapshot().TotalCash.String())
	suite.Equal("5000", suite.ledger.Available().String())
	suite.Equal(40.0, suite.ledger.InFlight("AAA").Unwrap().FilledQty)
	suite.assertCashIdentity()

	released := suite.ledger.Release("H1")
	suite.Equal("3000", released.String())
	suite.Equal("8000", suite.ledger.Available().String())
	suite.assertCashIdentity()
}

func (suite *LedgerTestSuite) TestNotionalReservationReleasesByFillValue() {
	o := order("N1", "AAA", types.OrderSideBuy, 0)
	o.Notional = 1_000
	suite.Require().NoError(suite.ledger.Reserve("N1", "AAA", decimal.NewFromInt(1_000), 0))

	suite.ledger.ApplyFill(o, 2.5, 200, suite.at)
	suite.Equal("500", suite.ledger.Reserved("N1").String())
	suite.Equal("9500", suite.ledger.Snapshot().TotalCash.String())
	suite.assertCashIdentity()
}

func (suite *LedgerTestSuite) TestSellCreditsCash() {
	suite.ledger.StartSession(types.Account{Cash: decimal.NewFromInt(0), BuyingPower: decimal.Zero}, []types.Position{
		{Symbol: "AAA", Qty: 10, AvgPrice: 90},
	})

	o := order("S1", "AAA", types.OrderSideSell, 10)
	suite.ledger.ApplyFill(o, 10, 100, suite.at)

	suite.Equal("1000", suite.ledger.Available().String())
	suite.Equal(0.0, suite.ledger.Position("AAA").Qty)
	suite.Empty(suite.ledger.Symbols())
	suite.assertCashIdentity()
}

func (suite *LedgerTestSuite) TestAtMostOneInFlight() {
	suite.Require().NoError(suite.ledger.SetInFlight(order("H1", "BBB", types.OrderSideBuy, 5)))

	err := suite.ledger.SetInFlight(order("H2", "BBB", types.OrderSideBuy, 10))
	suite.True(errors.HasCode(err, errors.ErrCodeOrderInFlight))
	suite.Equal("H1", suite.ledger.InFlight("BBB").Unwrap().ClientOrderID)

	// same order may refresh its slot
	suite.NoError(suite.ledger.SetInFlight(order("H1", "BBB", types.OrderSideBuy, 5)))
	suite.False(suite.ledger.ClearInFlight("BBB", "H2"))
	suite.True(suite.ledger.ClearInFlight("BBB", "H1"))
}

func (suite *LedgerTestSuite) TestSnapshotSinkReceivesMutations() {
	var snaps []types.LedgerSnapshot
	suite.ledger.SetSnapshotSink(func(s types.LedgerSnapshot) { snaps = append(snaps, s) })

	suite.Require().NoError(suite.ledger.Reserve("H1", "AAA", decimal.NewFromInt(100), 1))
	suite.ledger.Release("H1")
	suite.ledger.Release("H1")

	suite.Len(snaps, 2)
	suite.Equal("100", snaps[0].ReservedCash.String())
	suite.True(snaps[1].ReservedCash.IsZero())
}

func (suite *LedgerTestSuite) TestConcurrentReservationsNeverOverspend() {
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			symbol := fmt.Sprintf("S%02d", i%5)
			unlock := suite.ledger.Lock(symbol)
			defer unlock()

			if suite.ledger.InFlight(symbol).IsSome() {
				return
			}

			id := fmt.Sprintf("C%02d", i)
			if err := suite.ledger.Reserve(id, symbol, decimal.NewFromInt(1_500), 15); err != nil {
				return
			}

			_ = suite.ledger.SetInFlight(order(id, symbol, types.OrderSideBuy, 15))
		}(i)
	}

	wg.Wait()

	snap := suite.ledger.Snapshot()
	suite.Len(snap.InFlight, 5)
	suite.Equal("7500", snap.ReservedCash.String())
	suite.assertCashIdentity()
}
