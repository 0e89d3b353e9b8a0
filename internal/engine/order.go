package engine

import (
	"time"

	"huginn/internal/common"
)

// Order is owned by the book for its whole life. Callers refer to it only
// by its OrderID; the book hands out Trades and Quotes, never Orders.
type Order struct {
	ID        common.OrderID
	Seq       uint64 // Arrival sequence, fixes time priority
	Side      common.Side
	Type      common.OrderType
	Price     int64 // Limit price in ticks, 0 for market orders
	Quantity  int64 // Remaining quantity, decremented as it fills
	Timestamp time.Time
	UserRef   string // Opaque caller reference

	// Intrusive FIFO links within the order's price level. Cancellation
	// unlinks through these without scanning the level.
	next, prev *Order
}
