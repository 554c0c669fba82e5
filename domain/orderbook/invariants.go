package orderbook

import "fmt"

// CheckInvariants audits the whole book: tree shape, level aggregates,
// order linkage, the id index and the depth view. It is O(orders) and
// meant for tests, replay verification and debug endpoints.
func (b *OrderBook) CheckInvariants() error {
	live := 0
	hasAON := false
	for _, side := range []Side{Bid, Ask} {
		tree := b.side(side)
		if tree.blackHeight(tree.root) < 0 {
			return fmt.Errorf("%s tree violates red-black properties", side)
		}
		var err error
		levels := 0
		tree.Walk(func(lvl *PriceLevel) bool {
			levels++
			if err = b.checkLevel(lvl, side, lvl.Price); err != nil {
				return false
			}
			for o := lvl.Head(); o != nil; o = o.Next() {
				live++
				hasAON = hasAON || o.AllOrNone
				if o.Status != Resting && o.Status != PartiallyFilled {
					err = fmt.Errorf("order %d rests with status %s", o.ID, o.Status)
					return false
				}
				if o.AllOrNone && o.Filled != 0 {
					err = fmt.Errorf("all-or-none order %d partially filled", o.ID)
					return false
				}
				if o.Price != lvl.Price {
					err = fmt.Errorf("order %d price %d queued at %d", o.ID, o.Price, lvl.Price)
					return false
				}
			}
			return true
		})
		if err != nil {
			return err
		}
		if levels != tree.Size() {
			return fmt.Errorf("%s tree size %d, walked %d", side, tree.Size(), levels)
		}
		if err := b.checkDepth(side); err != nil {
			return err
		}
	}

	stops := 0
	var err error
	b.stops.each(func(o *Order) {
		stops++
		if err == nil && (!o.armed() || o.Status != Accepted) {
			err = fmt.Errorf("stop %d armed=%v status %s", o.ID, o.armed(), o.Status)
		}
	})
	if err != nil {
		return err
	}
	if stops != b.stops.count {
		return fmt.Errorf("stop count %d, walked %d", b.stops.count, stops)
	}
	if live+stops != len(b.orders) {
		return fmt.Errorf("index holds %d orders, book holds %d", len(b.orders), live+stops)
	}
	for id, o := range b.orders {
		if o == nil || o.ID != id || o.level == nil {
			return fmt.Errorf("index entry %d is not linked", id)
		}
	}

	// Only a skipped all-or-none order can leave the book crossed.
	if !hasAON {
		bid, ask := b.Bids.Best(), b.Asks.Best()
		if bid != nil && ask != nil && bid.Price >= ask.Price {
			return fmt.Errorf("book crossed: bid %d >= ask %d", bid.Price, ask.Price)
		}
	}
	return nil
}

func (b *OrderBook) checkLevel(lvl *PriceLevel, side Side, price int64) error {
	if lvl.Empty() {
		return fmt.Errorf("%s level %d is empty but indexed", side, price)
	}
	if lvl.Side != side {
		return fmt.Errorf("level %d has side %s in %s tree", price, lvl.Side, side)
	}
	var qty int64
	count := 0
	var prev *Order
	for o := lvl.Head(); o != nil; o = o.Next() {
		if o.level != lvl || o.prev != prev || o.Side != side {
			return fmt.Errorf("order %d mislinked at %s %d", o.ID, side, price)
		}
		if prev != nil && prev.SeqID >= o.SeqID {
			return fmt.Errorf("level %d out of time priority at order %d", price, o.ID)
		}
		qty += o.Remaining()
		count++
		prev = o
	}
	if lvl.tail != prev {
		return fmt.Errorf("level %d tail mismatch", price)
	}
	if qty != lvl.TotalQty || count != lvl.OrderCount {
		return fmt.Errorf("level %d aggregate %d/%d, orders sum %d/%d", price, lvl.TotalQty, lvl.OrderCount, qty, count)
	}
	return nil
}

func (b *OrderBook) checkDepth(side Side) error {
	want := topOf(b.side(side), b.depth.Size())
	got := b.depth.side(side).levels
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%s depth rank %d is %+v, book has %+v", side, i, got[i], want[i])
		}
	}
	return nil
}
