package orderbook

// DefaultDepthSize matches the five-level view most venues publish.
const DefaultDepthSize = 5

// DefaultMaxDepthLevels caps how many ranks one depth query may ask for.
const DefaultMaxDepthLevels = 1000

// DepthLevel is one aggregated rank of the depth view. Valid is false
// for slots beyond the number of live levels.
type DepthLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
	Valid    bool  `json:"valid"`
}

type DepthSnapshot struct {
	Bids []DepthLevel `json:"bids"`
	Asks []DepthLevel `json:"asks"`
}

func depthOf(lvl *PriceLevel) DepthLevel {
	return DepthLevel{Price: lvl.Price, Quantity: lvl.TotalQty, Orders: lvl.OrderCount, Valid: true}
}

// depthSide keeps the top ranks of one book side in book order.
type depthSide struct {
	side   Side
	levels []DepthLevel
}

func (d *depthSide) better(a, b int64) bool {
	if d.side == Bid {
		return a > b
	}
	return a < b
}

// apply mirrors the live level at price into the ranked array. A nil or
// empty lvl means the level left the book; refill then asks the tree for
// the level behind the last remaining rank. It reports whether any rank
// changed.
func (d *depthSide) apply(price int64, lvl *PriceLevel, tree *RBTree) bool {
	idx := -1
	for i := range d.levels {
		if !d.levels[i].Valid {
			break
		}
		if d.levels[i].Price == price {
			idx = i
			break
		}
	}

	if lvl == nil || lvl.Empty() {
		if idx < 0 {
			return false
		}
		last := len(d.levels) - 1
		copy(d.levels[idx:], d.levels[idx+1:])
		d.levels[last] = DepthLevel{}
		anchor, ok := price, true
		if last > 0 {
			anchor, ok = d.levels[last-1].Price, d.levels[last-1].Valid
		}
		if ok {
			if next := tree.Behind(anchor); next != nil {
				d.levels[last] = depthOf(next)
			}
		}
		return true
	}

	if idx >= 0 {
		updated := depthOf(lvl)
		if d.levels[idx] == updated {
			return false
		}
		d.levels[idx] = updated
		return true
	}

	rank := len(d.levels)
	for i := range d.levels {
		if !d.levels[i].Valid || d.better(price, d.levels[i].Price) {
			rank = i
			break
		}
	}
	if rank == len(d.levels) {
		return false
	}
	copy(d.levels[rank+1:], d.levels[rank:len(d.levels)-1])
	d.levels[rank] = depthOf(lvl)
	return true
}

// Depth is the incrementally maintained top-N view of both sides.
type Depth struct {
	bids depthSide
	asks depthSide
}

func newDepth(size int) *Depth {
	return &Depth{
		bids: depthSide{side: Bid, levels: make([]DepthLevel, size)},
		asks: depthSide{side: Ask, levels: make([]DepthLevel, size)},
	}
}

func (d *Depth) side(s Side) *depthSide {
	if s == Bid {
		return &d.bids
	}
	return &d.asks
}

func (d *Depth) Size() int { return len(d.bids.levels) }

// Snapshot copies the first n ranks of each side.
func (d *Depth) Snapshot(n int) DepthSnapshot {
	if n > d.Size() {
		n = d.Size()
	}
	out := DepthSnapshot{
		Bids: make([]DepthLevel, n),
		Asks: make([]DepthLevel, n),
	}
	copy(out.Bids, d.bids.levels[:n])
	copy(out.Asks, d.asks.levels[:n])
	return out
}
