package engine

// PriceLevel is a FIFO queue of resting orders sharing one price. Orders
// are appended at the tail and matched from the head, so queue position
// is arrival order. totalQty tracks the aggregate remaining quantity so
// top-of-book and snapshot reads never walk the queue.
type PriceLevel struct {
	price    int64
	head     *Order
	tail     *Order
	totalQty int64
}

func (lvl *PriceLevel) enqueue(order *Order) {
	if lvl.tail != nil {
		lvl.tail.next = order
		order.prev = lvl.tail
	} else {
		lvl.head = order
	}
	lvl.tail = order
	lvl.totalQty += order.Quantity
}

// unlink removes an order from anywhere in the queue. The order's
// remaining quantity leaves the level with it.
func (lvl *PriceLevel) unlink(order *Order) {
	if order.prev != nil {
		order.prev.next = order.next
	} else {
		lvl.head = order.next
	}
	if order.next != nil {
		order.next.prev = order.prev
	} else {
		lvl.tail = order.prev
	}
	order.next, order.prev = nil, nil
	lvl.totalQty -= order.Quantity
}

func (lvl *PriceLevel) empty() bool {
	return lvl.head == nil
}
