package common

// OrderID identifies an order within one book. IDs are assigned by the
// book on submission, start at 1 and are never reused.
type OrderID uint64

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the side a taker order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type OrderType int

const (
	// Limit orders are an order to buy or sell at a specified price or
	// better. Limit orders may rest on the order book until filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately against
	// whatever liquidity the book holds. Any quantity the book cannot
	// cover is discarded, never rested.
	MarketOrder
)

func (t OrderType) String() string {
	if t == LimitOrder {
		return "LIMIT"
	}
	return "MARKET"
}
