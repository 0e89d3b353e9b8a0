package common

import (
	"fmt"
	"time"
)

// Trade records one match between a taker and a resting maker. The price
// is always the maker's resting price; the taker pays the spread.
type Trade struct {
	Price     int64     // Maker's price, in ticks
	Quantity  int64     // Matched quantity
	TakerID   OrderID   // Order that swept the book
	MakerID   OrderID   // Resting order that was hit
	TakerSide Side      // Side of the taker
	Timestamp time.Time // Execution time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"TRADE %s qty=%d px=%d taker=%d maker=%d ts=%s",
		t.TakerSide,
		t.Quantity,
		t.Price,
		t.TakerID,
		t.MakerID,
		t.Timestamp.Format(time.RFC3339Nano),
	)
}

// Quote is one price level as seen from outside the book: the price and
// the aggregate remaining quantity resting at it.
type Quote struct {
	Price    int64
	Quantity int64
}

func (q Quote) String() string {
	return fmt.Sprintf("%d@%d", q.Quantity, q.Price)
}
