package memory

import "depthbook/domain/orderbook"

// OrderAllocator serves the book from a Pool and defers reuse through a
// RetireRing. Records retired while the ring is full wait in an overflow
// list; nothing is reused before Reclaim.
type OrderAllocator struct {
	pool     *Pool[orderbook.Order]
	ring     *RetireRing[orderbook.Order]
	overflow []*orderbook.Order
}

func NewOrderAllocator(ringSize uint64) *OrderAllocator {
	return &OrderAllocator{
		pool: NewPool(
			func() *orderbook.Order { return new(orderbook.Order) },
			(*orderbook.Order).Reset,
		),
		ring: NewRetireRing[orderbook.Order](ringSize),
	}
}

func (a *OrderAllocator) Get() *orderbook.Order {
	return a.pool.Get()
}

func (a *OrderAllocator) Retire(o *orderbook.Order) {
	if !a.ring.Enqueue(o) {
		a.overflow = append(a.overflow, o)
	}
}

// Reclaim returns every retired record to the pool and reports how many
// it released. Call it only between commands.
func (a *OrderAllocator) Reclaim() int {
	n := 0
	for o := a.ring.Dequeue(); o != nil; o = a.ring.Dequeue() {
		a.pool.Put(o)
		n++
	}
	for i, o := range a.overflow {
		a.pool.Put(o)
		a.overflow[i] = nil
		n++
	}
	a.overflow = a.overflow[:0]
	return n
}

// Pending is the number of retired records not yet reclaimed.
func (a *OrderAllocator) Pending() int {
	return a.ring.Len() + len(a.overflow)
}
