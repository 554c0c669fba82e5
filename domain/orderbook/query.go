package orderbook

// LevelView is one aggregated price level of the full book.
type LevelView struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

type BookSnapshot struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// Book lists every level of both sides, best first.
func (b *OrderBook) Book() BookSnapshot {
	return BookSnapshot{
		Bids: levelsOf(b.Bids),
		Asks: levelsOf(b.Asks),
	}
}

func levelsOf(t *RBTree) []LevelView {
	out := make([]LevelView, 0, t.Size())
	t.Walk(func(lvl *PriceLevel) bool {
		out = append(out, LevelView{Price: lvl.Price, Quantity: lvl.TotalQty, Orders: lvl.OrderCount})
		return true
	})
	return out
}

// Depth returns exactly n ranks per side; n <= 0 means the configured
// depth size and n is clamped to MaxDepthLevels. Ranks past the
// maintained view are read from the book.
func (b *OrderBook) Depth(n int) DepthSnapshot {
	if n <= 0 {
		n = b.depth.Size()
	}
	n = min(n, b.maxDepth)
	if n <= b.depth.Size() {
		return b.depth.Snapshot(n)
	}
	return DepthSnapshot{
		Bids: topOf(b.Bids, n),
		Asks: topOf(b.Asks, n),
	}
}

func topOf(t *RBTree, n int) []DepthLevel {
	out := make([]DepthLevel, n)
	i := 0
	t.Walk(func(lvl *PriceLevel) bool {
		if i == n {
			return false
		}
		out[i] = depthOf(lvl)
		i++
		return true
	})
	return out
}

// MaxDepthLevels is the largest n Depth honours.
func (b *OrderBook) MaxDepthLevels() int { return b.maxDepth }

// DepthSize is the number of ranks maintained incrementally.
func (b *OrderBook) DepthSize() int { return b.depth.Size() }

func (b *OrderBook) BestBid() DepthLevel { return b.depth.bids.levels[0] }
func (b *OrderBook) BestAsk() DepthLevel { return b.depth.asks.levels[0] }

// MarketPrice reports the last trade or seeded price; ok is false until
// either has happened.
func (b *OrderBook) MarketPrice() (price int64, ok bool) {
	return b.marketPrice, b.marketSet
}

// Order returns a copy of a live (resting or pending stop) order.
func (b *OrderBook) Order(id uint64) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.view(), true
}

// Len is the number of live orders, pending stops included.
func (b *OrderBook) Len() int { return len(b.orders) }

// PendingStops is the number of stops waiting for their trigger.
func (b *OrderBook) PendingStops() int { return b.stops.count }
