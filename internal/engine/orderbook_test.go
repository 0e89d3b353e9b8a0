package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "huginn/internal/common"
	"huginn/internal/engine"
)

// --- Setup & Helpers --------------------------------------------------------

// placeLimits submits limit orders one by one, failing the test on any
// rejection. Order ids are assigned 1, 2, 3, ... per book, so callers can
// predict the id of every order they place.
func placeLimits(t *testing.T, book *engine.OrderBook, side Side, price int64, quantities ...int64) {
	t.Helper()
	for _, qty := range quantities {
		_, _, err := book.SubmitLimit(side, qty, price, "test-ref")
		assert.NoError(t, err)
	}
}

type flatOrder = engine.FlatOrder

// buildLevel constructs the expected flattened level to compare against.
func buildLevel(price int64, orders ...flatOrder) engine.FlatPriceLevel {
	return engine.FlatPriceLevel{Price: price, Orders: orders}
}

// resting sums the remaining quantity across both sides via the book's
// liquidity counters.
func resting(book *engine.OrderBook) int64 {
	bidQty, askQty := book.Volumes()
	return bidQty + askQty
}

// assertPriceOrdering checks the strict ordering invariant on both sides:
// bids strictly decreasing, asks strictly increasing, walking best-out.
func assertPriceOrdering(t *testing.T, book *engine.OrderBook) {
	t.Helper()
	bids := book.FlattenSide(Buy)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i-1].Price, bids[i].Price, "bids must strictly decrease")
	}
	asks := book.FlattenSide(Sell)
	for i := 1; i < len(asks); i++ {
		assert.Less(t, asks[i-1].Price, asks[i].Price, "asks must strictly increase")
	}
}

// assertNoCross checks that settled books never leave crossing liquidity.
func assertNoCross(t *testing.T, book *engine.OrderBook) {
	t.Helper()
	bid, ask := book.TopOfBook()
	if bid != nil && ask != nil {
		assert.Less(t, bid.Price, ask.Price, "book must not remain crossed")
	}
}

// --- Resting & ordering -----------------------------------------------------

func TestSubmitLimit_RestsInOrder(t *testing.T) {
	book := engine.NewOrderBook()

	// 1. Three bids at 99, then three asks at 100. Ids follow submission.
	placeLimits(t, book, Buy, 99, 100, 90, 80)
	placeLimits(t, book, Sell, 100, 100, 90, 80)

	// 2. No cross, so everything rests FIFO at its level.
	expectedBids := []engine.FlatPriceLevel{
		buildLevel(99,
			flatOrder{ID: 1, Seq: 1, Quantity: 100},
			flatOrder{ID: 2, Seq: 2, Quantity: 90},
			flatOrder{ID: 3, Seq: 3, Quantity: 80},
		),
	}
	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100,
			flatOrder{ID: 4, Seq: 4, Quantity: 100},
			flatOrder{ID: 5, Seq: 5, Quantity: 90},
			flatOrder{ID: 6, Seq: 6, Quantity: 80},
		),
	}

	assert.Equal(t, expectedBids, book.FlattenSide(Buy))
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))

	nBids, nAsks := book.OrderCounts()
	assert.Equal(t, uint64(3), nBids)
	assert.Equal(t, uint64(3), nAsks)
}

func TestSubmitLimit_LevelsSortedBestFirst(t *testing.T) {
	book := engine.NewOrderBook()

	// Insert out of best-first order on purpose.
	placeLimits(t, book, Buy, 98, 50)
	placeLimits(t, book, Buy, 99, 100)
	placeLimits(t, book, Sell, 101, 20)
	placeLimits(t, book, Sell, 100, 100)

	expectedBids := []engine.FlatPriceLevel{
		buildLevel(99, flatOrder{ID: 2, Seq: 2, Quantity: 100}),
		buildLevel(98, flatOrder{ID: 1, Seq: 1, Quantity: 50}),
	}
	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100, flatOrder{ID: 4, Seq: 4, Quantity: 100}),
		buildLevel(101, flatOrder{ID: 3, Seq: 3, Quantity: 20}),
	}

	assert.Equal(t, expectedBids, book.FlattenSide(Buy), "bids should be sorted high -> low")
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell), "asks should be sorted low -> high")
	assertPriceOrdering(t, book)
}

// --- Limit matching ---------------------------------------------------------

func TestSubmitLimit_FullFill(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 100, 90) // ids 1, 2

	trades, residual, err := book.SubmitLimit(Buy, 100, 100, "") // id 3
	assert.NoError(t, err)
	assert.Equal(t, int64(0), residual)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(100), trades[0].Quantity)
	assert.Equal(t, OrderID(3), trades[0].TakerID)
	assert.Equal(t, OrderID(1), trades[0].MakerID)

	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100, flatOrder{ID: 2, Seq: 2, Quantity: 90}),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))
	assert.Empty(t, book.FlattenSide(Buy))
}

func TestSubmitLimit_PartialMakerFill(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 90) // id 1

	trades, residual, err := book.SubmitLimit(Buy, 20, 100, "") // id 2
	assert.NoError(t, err)
	assert.Equal(t, int64(0), residual)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(20), trades[0].Quantity)

	// Maker keeps its place with the reduced quantity.
	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100, flatOrder{ID: 1, Seq: 1, Quantity: 70}),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))
}

func TestSubmitLimit_SweepStopsAtLimit(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 100, 90) // ids 1, 2
	placeLimits(t, book, Sell, 101, 20)      // id 3
	placeLimits(t, book, Sell, 103, 40)      // id 4

	// Buy 220 up to 101: sweeps the 100 level fully, the 101 level
	// fully, and must not touch 103. Residual 10 rests at 101.
	trades, residual, err := book.SubmitLimit(Buy, 220, 101, "") // id 5
	assert.NoError(t, err)
	assert.Equal(t, int64(10), residual)
	assert.Len(t, trades, 3)
	assert.Equal(t, []OrderID{1, 2, 3}, []OrderID{trades[0].MakerID, trades[1].MakerID, trades[2].MakerID})

	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(103, flatOrder{ID: 4, Seq: 4, Quantity: 40}),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))

	// The residual rests on the bid side with its original sequence.
	expectedBids := []engine.FlatPriceLevel{
		buildLevel(101, flatOrder{ID: 5, Seq: 5, Quantity: 10}),
	}
	assert.Equal(t, expectedBids, book.FlattenSide(Buy))
	assertNoCross(t, book)
}

func TestSubmitLimit_SellSweepsBids(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Buy, 99, 100, 90, 80) // ids 1-3
	placeLimits(t, book, Buy, 98, 50)          // id 4

	trades, residual, err := book.SubmitLimit(Sell, 310, 96, "") // id 5
	assert.NoError(t, err)
	assert.Equal(t, int64(0), residual)
	assert.Len(t, trades, 4)

	expectedBids := []engine.FlatPriceLevel{
		buildLevel(98, flatOrder{ID: 4, Seq: 4, Quantity: 10}),
	}
	assert.Equal(t, expectedBids, book.FlattenSide(Buy))
	assert.Empty(t, book.FlattenSide(Sell))
}

func TestMakerPriceConvention(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 105, 10) // id 1

	// The taker is willing to pay 110 but executes at the maker's 105.
	trades, residual, err := book.SubmitLimit(Buy, 5, 110, "")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), residual)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(105), trades[0].Price)
	assert.Equal(t, Buy, trades[0].TakerSide)

	// Same convention the other way around.
	book2 := engine.NewOrderBook()
	placeLimits(t, book2, Buy, 105, 10)
	trades, _, err = book2.SubmitLimit(Sell, 5, 100, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(105), trades[0].Price)
	assert.Equal(t, Sell, trades[0].TakerSide)
}

// --- Time priority ----------------------------------------------------------

func TestTimePriority_FIFOWithinLevel(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 5) // id 1
	placeLimits(t, book, Sell, 100, 5) // id 2

	// A marketable buy must exhaust id 1 before touching id 2.
	trades, err := book.SubmitMarket(Buy, 7, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, OrderID(1), trades[0].MakerID)
	assert.Equal(t, int64(5), trades[0].Quantity)
	assert.Equal(t, OrderID(2), trades[1].MakerID)
	assert.Equal(t, int64(2), trades[1].Quantity)

	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100, flatOrder{ID: 2, Seq: 2, Quantity: 3}),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))
}

func TestTimePriority_ResidualKeepsArrivalSequence(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 105, 10) // id 1

	// id 2 partially fills, residual 5 rests at 105 with seq 2.
	_, residual, err := book.SubmitLimit(Buy, 15, 105, "")
	assert.NoError(t, err)
	assert.Equal(t, int64(5), residual)

	// id 3 joins the same level later.
	placeLimits(t, book, Buy, 105, 5)

	expectedBids := []engine.FlatPriceLevel{
		buildLevel(105,
			flatOrder{ID: 2, Seq: 2, Quantity: 5},
			flatOrder{ID: 3, Seq: 3, Quantity: 5},
		),
	}
	assert.Equal(t, expectedBids, book.FlattenSide(Buy))

	// An incoming sell must drain id 2 completely before id 3.
	trades, _, err := book.SubmitLimit(Sell, 8, 105, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, OrderID(2), trades[0].MakerID)
	assert.Equal(t, int64(5), trades[0].Quantity)
	assert.Equal(t, OrderID(3), trades[1].MakerID)
	assert.Equal(t, int64(3), trades[1].Quantity)
}

// --- Market orders ----------------------------------------------------------

func TestSubmitMarket_SweepsLevels(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 103, 8)  // id 1
	placeLimits(t, book, Sell, 104, 12) // id 2

	trades, err := book.SubmitMarket(Buy, 15, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, int64(8), trades[0].Quantity)
	assert.Equal(t, int64(103), trades[0].Price)
	assert.Equal(t, int64(7), trades[1].Quantity)
	assert.Equal(t, int64(104), trades[1].Price)

	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(104, flatOrder{ID: 2, Seq: 2, Quantity: 5}),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))
}

func TestSubmitMarket_UnfilledRemainderDiscarded(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 10) // id 1

	// 25 requested, only 10 available. The remainder never rests and the
	// caller reads it off the trade totals.
	trades, err := book.SubmitMarket(Buy, 25, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(10), trades[0].Quantity)

	assert.Empty(t, book.FlattenSide(Buy))
	assert.Empty(t, book.FlattenSide(Sell))
	bid, ask := book.TopOfBook()
	assert.Nil(t, bid)
	assert.Nil(t, ask)
}

func TestSubmitMarket_EmptyBook(t *testing.T) {
	book := engine.NewOrderBook()
	trades, err := book.SubmitMarket(Sell, 10, "")
	assert.NoError(t, err)
	assert.Empty(t, trades)
}

// --- Cancellation -----------------------------------------------------------

func TestCancel(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Buy, 100, 10) // id 1
	placeLimits(t, book, Buy, 101, 5)  // id 2

	assert.True(t, book.Cancel(2))

	// Level 101 is gone: best bid falls back to 100.
	bid, _ := book.TopOfBook()
	assert.Equal(t, &Quote{Price: 100, Quantity: 10}, bid)

	// Cancelling again is a defined not-found, as is an unknown id.
	assert.False(t, book.Cancel(2))
	assert.False(t, book.Cancel(999))

	nBids, _ := book.OrderCounts()
	assert.Equal(t, uint64(1), nBids)
	assert.Equal(t, uint64(0), book.ConsistencyRepairs())
}

func TestCancel_FilledOrderNotFound(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 10) // id 1
	_, err := book.SubmitMarket(Buy, 10, "")
	assert.NoError(t, err)

	// Fully filled orders leave the index with the book.
	assert.False(t, book.Cancel(1))
}

func TestCancel_MiddleOfQueue(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Sell, 100, 10, 20, 30) // ids 1-3

	assert.True(t, book.Cancel(2))

	expectedAsks := []engine.FlatPriceLevel{
		buildLevel(100,
			flatOrder{ID: 1, Seq: 1, Quantity: 10},
			flatOrder{ID: 3, Seq: 3, Quantity: 30},
		),
	}
	assert.Equal(t, expectedAsks, book.FlattenSide(Sell))

	_, askQty := book.Volumes()
	assert.Equal(t, int64(40), askQty)
}

// --- Queries ----------------------------------------------------------------

func TestTopOfBook_AggregatesLevel(t *testing.T) {
	book := engine.NewOrderBook()

	bid, ask := book.TopOfBook()
	assert.Nil(t, bid)
	assert.Nil(t, ask)

	placeLimits(t, book, Buy, 99, 100, 90, 80)
	placeLimits(t, book, Buy, 98, 50)
	placeLimits(t, book, Sell, 100, 60, 40)

	bid, ask = book.TopOfBook()
	assert.Equal(t, &Quote{Price: 99, Quantity: 270}, bid)
	assert.Equal(t, &Quote{Price: 100, Quantity: 100}, ask)
}

func TestSnapshot_DepthTruncation(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Buy, 99, 10)
	placeLimits(t, book, Buy, 98, 20)
	placeLimits(t, book, Buy, 97, 30)
	placeLimits(t, book, Sell, 100, 5)
	placeLimits(t, book, Sell, 102, 15)

	// Exactly one best level per side at depth 1.
	bids, asks := book.Snapshot(1)
	assert.Equal(t, []Quote{{Price: 99, Quantity: 10}}, bids)
	assert.Equal(t, []Quote{{Price: 100, Quantity: 5}}, asks)

	// Fewer levels than requested: return what exists, never pad.
	bids, asks = book.Snapshot(10)
	assert.Equal(t, []Quote{
		{Price: 99, Quantity: 10},
		{Price: 98, Quantity: 20},
		{Price: 97, Quantity: 30},
	}, bids)
	assert.Equal(t, []Quote{
		{Price: 100, Quantity: 5},
		{Price: 102, Quantity: 15},
	}, asks)

	bids, asks = book.Snapshot(0)
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

// --- Validation -------------------------------------------------------------

func TestSubmit_RejectsInvalidInput(t *testing.T) {
	book := engine.NewOrderBook()

	_, err := book.SubmitMarket(Buy, 0, "")
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)

	_, _, err = book.SubmitLimit(Sell, -5, 100, "")
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)

	_, _, err = book.SubmitLimit(Buy, 10, 0, "")
	assert.ErrorIs(t, err, engine.ErrInvalidPrice)

	// Rejection happens before any state is touched.
	bid, ask := book.TopOfBook()
	assert.Nil(t, bid)
	assert.Nil(t, ask)
	nBids, nAsks := book.OrderCounts()
	assert.Zero(t, nBids)
	assert.Zero(t, nAsks)
}

// --- Properties -------------------------------------------------------------

func TestQuantityConservation(t *testing.T) {
	book := engine.NewOrderBook()

	var submitted, traded2x, marketUnfilled int64

	submitLimit := func(side Side, qty, price int64) {
		trades, _, err := book.SubmitLimit(side, qty, price, "")
		assert.NoError(t, err)
		submitted += qty
		for _, trade := range trades {
			traded2x += 2 * trade.Quantity
		}
	}
	submitMarket := func(side Side, qty int64) {
		trades, err := book.SubmitMarket(side, qty, "")
		assert.NoError(t, err)
		submitted += qty
		filled := int64(0)
		for _, trade := range trades {
			traded2x += 2 * trade.Quantity
			filled += trade.Quantity
		}
		marketUnfilled += qty - filled
	}

	submitLimit(Buy, 100, 99)
	submitLimit(Buy, 40, 98)
	submitLimit(Sell, 70, 101)
	submitLimit(Sell, 30, 100)
	submitLimit(Buy, 90, 101)  // crosses both ask levels, residual rests
	submitMarket(Sell, 160)    // sweeps bids, partly unfilled
	submitLimit(Sell, 25, 97)  // crosses whatever bid is left
	submitMarket(Buy, 10)      // may be partly unfilled
	submitLimit(Buy, 15, 96)   // rests
	submitLimit(Sell, 5, 1000) // rests far away

	assert.Equal(t, submitted, traded2x+resting(book)+marketUnfilled)
	assertPriceOrdering(t, book)
	assertNoCross(t, book)
	assert.Equal(t, uint64(0), book.ConsistencyRepairs())
}

func TestIndexBookConsistency(t *testing.T) {
	book := engine.NewOrderBook()
	placeLimits(t, book, Buy, 99, 10, 20)
	placeLimits(t, book, Buy, 98, 30)
	placeLimits(t, book, Sell, 101, 40)
	placeLimits(t, book, Sell, 103, 50, 60)

	// Every resting order is indexed: each cancels true exactly once.
	for _, side := range []Side{Buy, Sell} {
		for _, level := range book.FlattenSide(side) {
			for _, order := range level.Orders {
				assert.True(t, book.Cancel(order.ID), "resting order %d must be indexed", order.ID)
				assert.False(t, book.Cancel(order.ID))
			}
		}
	}

	// And nothing is left behind once they are gone.
	nBids, nAsks := book.OrderCounts()
	assert.Zero(t, nBids)
	assert.Zero(t, nAsks)
	bidQty, askQty := book.Volumes()
	assert.Zero(t, bidQty)
	assert.Zero(t, askQty)
	bid, ask := book.TopOfBook()
	assert.Nil(t, bid)
	assert.Nil(t, ask)
}

// TestReferenceScenario walks the full worked example: build a book, hit
// it with a market sweep, cancel the best bid, then cross the remainder.
func TestReferenceScenario(t *testing.T) {
	book := engine.NewOrderBook()

	placeLimits(t, book, Buy, 100, 10) // id 1
	placeLimits(t, book, Buy, 101, 5)  // id 2
	placeLimits(t, book, Sell, 103, 8) // id 3
	placeLimits(t, book, Sell, 104, 12) // id 4

	bid, ask := book.TopOfBook()
	assert.Equal(t, &Quote{Price: 101, Quantity: 5}, bid)
	assert.Equal(t, &Quote{Price: 103, Quantity: 8}, ask)

	// Market buy 15: 8@103 then 7@104, leaving 5@104 resting.
	trades, err := book.SubmitMarket(Buy, 15, "")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, int64(8), trades[0].Quantity)
	assert.Equal(t, int64(103), trades[0].Price)
	assert.Equal(t, OrderID(3), trades[0].MakerID)
	assert.Equal(t, int64(7), trades[1].Quantity)
	assert.Equal(t, int64(104), trades[1].Price)
	assert.Equal(t, OrderID(4), trades[1].MakerID)

	_, ask = book.TopOfBook()
	assert.Equal(t, &Quote{Price: 104, Quantity: 5}, ask)

	// Cancel the 5@101 bid; best bid falls back to 100.
	assert.True(t, book.Cancel(2))
	bid, _ = book.TopOfBook()
	assert.Equal(t, &Quote{Price: 100, Quantity: 10}, bid)

	// Sell 10@100 crosses the remaining bid exactly.
	trades, residual, err := book.SubmitLimit(Sell, 10, 100, "")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), residual)
	assert.Len(t, trades, 1)
	assert.Equal(t, int64(10), trades[0].Quantity)
	assert.Equal(t, int64(100), trades[0].Price)
	assert.Equal(t, OrderID(1), trades[0].MakerID)

	bid, ask = book.TopOfBook()
	assert.Nil(t, bid)
	assert.Equal(t, &Quote{Price: 104, Quantity: 5}, ask)
}
