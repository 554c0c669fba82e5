package orderbook

// State is a detached image of the book used for snapshots. Orders
// lists resting orders bids then asks, best level first and FIFO within
// a level; Stops lists pending stops in activation order.
type State struct {
	Seq         uint64
	MarketPrice int64
	MarketSet   bool
	Orders      []Order
	Stops       []Order
}

func (b *OrderBook) Export() State {
	s := State{
		Seq:         b.seq,
		MarketPrice: b.marketPrice,
		MarketSet:   b.marketSet,
		Orders:      make([]Order, 0, len(b.orders)),
		Stops:       make([]Order, 0, b.stops.count),
	}
	visit := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			s.Orders = append(s.Orders, o.view())
		}
		return true
	}
	b.Bids.Walk(visit)
	b.Asks.Walk(visit)
	b.stops.each(func(o *Order) {
		s.Stops = append(s.Stops, o.view())
	})
	return s
}

// Restore loads a State into an empty book without matching and
// without emitting events.
func (b *OrderBook) Restore(s State) error {
	if len(b.orders) != 0 || b.seq != 0 {
		return invalid("restore into non-empty book")
	}
	seen := make(map[uint64]struct{}, len(s.Orders)+len(s.Stops))
	for _, src := range s.Orders {
		if err := restoreCheck(src, seen); err != nil {
			return err
		}
		if src.Type == Market || (src.Status != Resting && src.Status != PartiallyFilled) {
			return invalid("order %d: cannot rest with type %s status %s", src.ID, src.Type, src.Status)
		}
	}
	for _, src := range s.Stops {
		if err := restoreCheck(src, seen); err != nil {
			return err
		}
		if src.StopPrice <= 0 || src.Triggered {
			return invalid("order %d: not a pending stop", src.ID)
		}
	}

	for _, src := range s.Orders {
		o := b.load(src)
		lvl, _ := b.side(o.Side).Upsert(o.Price)
		lvl.insertBySeq(o)
	}
	for _, src := range s.Stops {
		b.stops.add(b.load(src))
	}
	b.seq = s.Seq
	b.marketPrice, b.marketSet = s.MarketPrice, s.MarketSet
	b.rebuildDepth()
	return nil
}

func restoreCheck(o Order, seen map[uint64]struct{}) error {
	switch {
	case o.ID == 0 || !o.Side.valid():
		return invalid("order %d: malformed", o.ID)
	case o.Remaining() <= 0:
		return invalid("order %d: no open quantity", o.ID)
	case o.SeqID == 0:
		return invalid("order %d: missing sequence", o.ID)
	}
	if _, dup := seen[o.ID]; dup {
		return invalid("order %d: duplicate id", o.ID)
	}
	seen[o.ID] = struct{}{}
	return nil
}

func (b *OrderBook) load(src Order) *Order {
	o := b.alloc.Get()
	*o = src
	o.level, o.next, o.prev = nil, nil, nil
	b.orders[o.ID] = o
	return o
}

func (b *OrderBook) rebuildDepth() {
	for _, side := range []Side{Bid, Ask} {
		d := b.depth.side(side)
		clear(d.levels)
		i := 0
		b.side(side).Walk(func(lvl *PriceLevel) bool {
			if i == len(d.levels) {
				return false
			}
			d.levels[i] = depthOf(lvl)
			i++
			return true
		})
	}
}
