package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"huginn/internal/common"
)

var (
	ErrInvalidQuantity = errors.New("order quantity must be positive")
	ErrInvalidPrice    = errors.New("limit price must be positive")
)

type PriceLevels = btree.BTreeG[*PriceLevel]

// indexEntry locates a resting order: which side, which level, and the
// order itself as a stable handle into the level's intrusive queue.
type indexEntry struct {
	side  common.Side
	price int64
	order *Order
}

// OrderBook is a single-instrument limit order book matched under
// price-time priority. Mutating operations (submit, cancel) serialize
// under one write lock, so one logical stream of commands is applied
// strictly in arrival order; queries share a read lock.
type OrderBook struct {
	mu sync.RWMutex

	// Price levels per side. Comparators make Min the best price on
	// both trees: highest bid, lowest ask.
	bids *PriceLevels
	asks *PriceLevels

	// Resting orders by id. An id is present here iff the order sits in
	// some level; every mutation keeps the two in lockstep.
	index map[common.OrderID]indexEntry

	// Instance-owned generators so independent books never share
	// counters and tests see reproducible sequences.
	nextID  uint64
	nextSeq uint64

	// Book keeping
	nBids   uint64 // Resting orders on the bid side
	nAsks   uint64 // Resting orders on the ask side
	bidQty  int64  // Bid-side resting liquidity
	askQty  int64  // Ask-side resting liquidity
	repairs uint64 // Stale index entries cleared by Cancel
}

func NewOrderBook() *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price > b.price
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.price < b.price
	})
	return &OrderBook{
		bids:  bids,
		asks:  asks,
		index: make(map[common.OrderID]indexEntry),
	}
}

// newOrder mints an order with the next id and arrival sequence. The
// sequence is assigned here, when the order enters the matching
// pipeline, and never again: a limit residual rests with the priority it
// earned by arriving.
func (book *OrderBook) newOrder(side common.Side, orderType common.OrderType, qty, price int64, userRef string) *Order {
	book.nextID++
	book.nextSeq++
	return &Order{
		ID:        common.OrderID(book.nextID),
		Seq:       book.nextSeq,
		Side:      side,
		Type:      orderType,
		Price:     price,
		Quantity:  qty,
		Timestamp: time.Now(),
		UserRef:   userRef,
	}
}

// SubmitMarket sweeps the opposite side from the best price outward until
// the quantity is filled or the book runs dry. Whatever cannot be filled
// is discarded; callers infer the remainder as qty minus the sum of trade
// quantities. Returns the trades from this call only.
func (book *OrderBook) SubmitMarket(side common.Side, qty int64, userRef string) ([]common.Trade, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	taker := book.newOrder(side, common.MarketOrder, qty, 0, userRef)
	return book.sweep(taker), nil
}

// SubmitLimit matches like SubmitMarket but stops crossing once the best
// opposite price no longer satisfies the limit. Any residual quantity
// rests at the limit price on the taker's own side and is returned along
// with the trades (0 when fully filled).
func (book *OrderBook) SubmitLimit(side common.Side, qty, price int64, userRef string) ([]common.Trade, int64, error) {
	if qty <= 0 {
		return nil, 0, ErrInvalidQuantity
	}
	if price <= 0 {
		return nil, 0, ErrInvalidPrice
	}

	book.mu.Lock()
	defer book.mu.Unlock()

	taker := book.newOrder(side, common.LimitOrder, qty, price, userRef)
	trades := book.sweep(taker)

	residual := taker.Quantity
	if residual > 0 {
		book.rest(taker)
	}
	return trades, residual, nil
}

// crossed reports whether a taker at the given limit may trade against
// the best opposite price. The two sides differ only in the direction of
// this comparison.
func crossed(takerSide common.Side, limit, best int64) bool {
	if takerSide == common.Buy {
		return best <= limit
	}
	return best >= limit
}

// sweep consumes the opposite side best-price-first, FIFO within each
// level, until the taker is filled, the side is exhausted or (for limit
// takers) the next level no longer crosses. One Trade is emitted per
// maker touched, priced at the maker's level.
func (book *OrderBook) sweep(taker *Order) []common.Trade {
	opposite := book.asks
	if taker.Side == common.Sell {
		opposite = book.bids
	}

	var trades []common.Trade
	now := time.Now()

	for taker.Quantity > 0 {
		// Min is the best price on either tree, by construction.
		level, ok := opposite.MinMut()
		if !ok {
			break
		}
		if taker.Type == common.LimitOrder && !crossed(taker.Side, taker.Price, level.price) {
			break
		}

		for taker.Quantity > 0 && level.head != nil {
			maker := level.head
			traded := min(taker.Quantity, maker.Quantity)
			taker.Quantity -= traded
			maker.Quantity -= traded
			level.totalQty -= traded
			book.drainLiquidity(maker.Side, traded)

			trades = append(trades, common.Trade{
				Price:     level.price,
				Quantity:  traded,
				TakerID:   taker.ID,
				MakerID:   maker.ID,
				TakerSide: taker.Side,
				Timestamp: now,
			})

			if maker.Quantity == 0 {
				// A filled order must exist nowhere: drop it from the
				// queue and the index together.
				level.unlink(maker)
				delete(book.index, maker.ID)
				book.dropOrder(maker.Side)
			}
		}

		// Levels never persist empty; prune before looking at the next
		// price so queries only ever see levels with visible depth.
		if level.empty() {
			opposite.Delete(level)
		}
	}
	return trades
}

// rest appends the order at the FIFO tail of its price level, creating
// the level if needed, and registers it in the index. Both updates happen
// under the same critical section, so no intermediate state is visible.
func (book *OrderBook) rest(order *Order) {
	side := book.bids
	if order.Side == common.Sell {
		side = book.asks
	}

	// The comparator only reads the price, so a probe level suffices.
	level, ok := side.GetMut(&PriceLevel{price: order.Price})
	if !ok {
		level = &PriceLevel{price: order.Price}
		side.Set(level)
	}
	level.enqueue(order)

	book.index[order.ID] = indexEntry{
		side:  order.Side,
		price: order.Price,
		order: order,
	}

	switch order.Side {
	case common.Buy:
		book.nBids++
		book.bidQty += order.Quantity
	case common.Sell:
		book.nAsks++
		book.askQty += order.Quantity
	}
}

// Cancel removes a resting order. Unknown, already-filled or
// already-cancelled ids are a defined not-found outcome, not an error.
func (book *OrderBook) Cancel(id common.OrderID) bool {
	book.mu.Lock()
	defer book.mu.Unlock()

	entry, ok := book.index[id]
	if !ok {
		return false
	}

	side := book.bids
	if entry.side == common.Sell {
		side = book.asks
	}

	level, ok := side.GetMut(&PriceLevel{price: entry.price})
	if !ok {
		// The index referenced a level that no longer exists. Clear the
		// stale entry so the book stays usable and surface the event
		// through the repair counter; it indicates an earlier bug.
		delete(book.index, id)
		book.repairs++
		return false
	}

	level.unlink(entry.order)
	if level.empty() {
		side.Delete(level)
	}
	delete(book.index, id)

	book.drainLiquidity(entry.side, entry.order.Quantity)
	book.dropOrder(entry.side)
	return true
}

// TopOfBook returns the best bid and ask as (price, aggregate level
// quantity), nil where the side is empty.
func (book *OrderBook) TopOfBook() (bid, ask *common.Quote) {
	book.mu.RLock()
	defer book.mu.RUnlock()

	if level, ok := book.bids.Min(); ok {
		bid = &common.Quote{Price: level.price, Quantity: level.totalQty}
	}
	if level, ok := book.asks.Min(); ok {
		ask = &common.Quote{Price: level.price, Quantity: level.totalQty}
	}
	return bid, ask
}

// Snapshot returns up to depth levels per side, best price first. Sides
// with fewer distinct prices return fewer entries, never padding.
func (book *OrderBook) Snapshot(depth int) (bids, asks []common.Quote) {
	book.mu.RLock()
	defer book.mu.RUnlock()

	return collectQuotes(book.bids, depth), collectQuotes(book.asks, depth)
}

func collectQuotes(levels *PriceLevels, depth int) []common.Quote {
	if depth <= 0 {
		return nil
	}
	quotes := make([]common.Quote, 0, depth)
	levels.Scan(func(level *PriceLevel) bool {
		quotes = append(quotes, common.Quote{Price: level.price, Quantity: level.totalQty})
		return len(quotes) < depth
	})
	return quotes
}

// Volumes reports the total resting liquidity per side.
func (book *OrderBook) Volumes() (bidQty, askQty int64) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.bidQty, book.askQty
}

// OrderCounts reports the number of resting orders per side.
func (book *OrderBook) OrderCounts() (bids, asks uint64) {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.nBids, book.nAsks
}

// ConsistencyRepairs reports how many stale index entries Cancel has had
// to clear. Any nonzero value means an invariant was broken earlier; a
// wrapping layer should alarm on it.
func (book *OrderBook) ConsistencyRepairs() uint64 {
	book.mu.RLock()
	defer book.mu.RUnlock()
	return book.repairs
}

func (book *OrderBook) drainLiquidity(side common.Side, qty int64) {
	switch side {
	case common.Buy:
		book.bidQty -= qty
	case common.Sell:
		book.askQty -= qty
	}
}

func (book *OrderBook) dropOrder(side common.Side) {
	switch side {
	case common.Buy:
		book.nBids--
	case common.Sell:
		book.nAsks--
	}
}
