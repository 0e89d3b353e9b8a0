package engine

import "huginn/internal/common"

// FlatOrder and FlatPriceLevel are copies of book state for inspection
// and tests; mutating them does not touch the book.
type FlatOrder struct {
	ID       common.OrderID
	Seq      uint64
	Quantity int64
}

type FlatPriceLevel struct {
	Price  int64
	Orders []FlatOrder
}

// FlattenSide copies one side out, best price first, FIFO within each
// level.
func (book *OrderBook) FlattenSide(side common.Side) []FlatPriceLevel {
	book.mu.RLock()
	defer book.mu.RUnlock()

	levels := book.bids
	if side == common.Sell {
		levels = book.asks
	}

	var flat []FlatPriceLevel
	levels.Scan(func(level *PriceLevel) bool {
		fl := FlatPriceLevel{Price: level.price}
		for order := level.head; order != nil; order = order.next {
			fl.Orders = append(fl.Orders, FlatOrder{
				ID:       order.ID,
				Seq:      order.Seq,
				Quantity: order.Quantity,
			})
		}
		flat = append(flat, fl)
		return true
	})
	return flat
}
