package orderbook

// PriceLevel is a FIFO queue at a single price. TotalQty is the sum of
// the open quantity of every queued order.
type PriceLevel struct {
	Price int64
	Side  Side

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) Enqueue(o *Order) {
	invariant(o.level == nil, "order %d enqueued while linked at %d", o.ID, p.Price)
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// insertBySeq links o behind every queued order with a lower SeqID.
// Used when restoring state or re-arming stops, never for new orders.
func (p *PriceLevel) insertBySeq(o *Order) {
	at := p.tail
	for at != nil && at.SeqID > o.SeqID {
		at = at.prev
	}
	if at == p.tail {
		p.Enqueue(o)
		return
	}
	o.level = p
	if at == nil {
		o.next = p.head
		p.head.prev = o
		p.head = o
	} else {
		o.prev = at
		o.next = at.next
		at.next.prev = o
		at.next = o
	}
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

// Remove unlinks o. The caller owns the level's lifetime.
func (p *PriceLevel) Remove(o *Order) {
	invariant(o.level == p, "order %d is not queued at %d", o.ID, p.Price)
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	p.TotalQty -= o.Remaining()
	p.OrderCount--
	o.next, o.prev, o.level = nil, nil, nil
	invariant(p.TotalQty >= 0 && p.OrderCount >= 0, "level %d: negative aggregate", p.Price)
}

// reduce accounts for qty executed against a queued order.
func (p *PriceLevel) reduce(qty int64) {
	p.TotalQty -= qty
	invariant(p.TotalQty >= 0, "level %d: negative aggregate", p.Price)
}

func (p *PriceLevel) PopHead() *Order {
	o := p.head
	if o != nil {
		p.Remove(o)
	}
	return o
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

func (p *PriceLevel) Head() *Order {
	return p.head
}
