package orderbook

// stopBook holds orders waiting for their trigger, keyed by stop price.
// Each level is FIFO by submission, so equal triggers activate in
// arrival order.
type stopBook struct {
	buys  *RBTree
	sells *RBTree
	count int
}

func newStopBook() *stopBook {
	return &stopBook{buys: NewRBTree(Bid), sells: NewRBTree(Ask)}
}

func (s *stopBook) tree(side Side) *RBTree {
	if side == Bid {
		return s.buys
	}
	return s.sells
}

func (s *stopBook) add(o *Order) {
	lvl, _ := s.tree(o.Side).Upsert(o.StopPrice)
	lvl.insertBySeq(o)
	s.count++
}

func (s *stopBook) remove(o *Order) {
	lvl := o.level
	invariant(lvl != nil, "stop order %d not linked", o.ID)
	lvl.Remove(o)
	if lvl.Empty() {
		s.tree(o.Side).Delete(lvl.Price)
	}
	s.count--
}

// collect unlinks every stop the market price activates and appends it
// to queue: buy stops by ascending trigger, then sell stops by
// descending trigger, FIFO within a price.
func (s *stopBook) collect(market int64, queue []*Order) []*Order {
	for lvl := s.buys.Min(); lvl != nil && lvl.Price <= market; lvl = s.buys.Min() {
		queue = s.drain(s.buys, lvl, queue)
	}
	for lvl := s.sells.Max(); lvl != nil && lvl.Price >= market; lvl = s.sells.Max() {
		queue = s.drain(s.sells, lvl, queue)
	}
	return queue
}

func (s *stopBook) drain(t *RBTree, lvl *PriceLevel, queue []*Order) []*Order {
	for o := lvl.PopHead(); o != nil; o = lvl.PopHead() {
		queue = append(queue, o)
		s.count--
	}
	t.Delete(lvl.Price)
	return queue
}

func (s *stopBook) each(fn func(*Order)) {
	visit := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			fn(o)
		}
		return true
	}
	s.buys.Ascend(visit)
	s.sells.Descend(visit)
}
