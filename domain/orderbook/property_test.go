package orderbook

import (
	"testing"

	"pgregory.net/rapid"
)

// TestBookInvariantsUnderRandomFlow drives the book with random command
// sequences and audits it after every step.
func TestBookInvariantsUnderRandomFlow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		depthSize := rapid.IntRange(1, 4).Draw(t, "depth")
		filledSoFar := map[uint64]int64{}
		aonQty := map[uint64]int64{}
		listener := ListenerFunc(func(e Event) {
			switch e.Type {
			case EventFilled:
				filledSoFar[e.OrderID] += e.Quantity
			case EventReplaced:
				delete(filledSoFar, e.OrderID)
			}
		})
		book := NewOrderBook(WithDepthSize(depthSize), WithListener(listener), WithMaxCascade(rapid.IntRange(0, 3).Draw(t, "cascade")))

		var nextID uint64
		var live []uint64
		steps := rapid.IntRange(1, 120).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 9).Draw(t, "op") {
			case 0:
				if len(live) > 0 {
					_ = book.Cancel(rapid.SampledFrom(live).Draw(t, "cancel"))
				}
			case 1:
				if len(live) > 0 {
					id := rapid.SampledFrom(live).Draw(t, "replace")
					_, _ = book.Replace(id, WithPrice(rapid.Int64Range(90, 110).Draw(t, "newPrice")))
				}
			case 2:
				_ = book.SetMarketPrice(rapid.Int64Range(88, 112).Draw(t, "market"))
			default:
				nextID++
				r := Request{
					ID:                nextID,
					Side:              rapid.SampledFrom([]Side{Bid, Ask}).Draw(t, "side"),
					Price:             rapid.Int64Range(90, 110).Draw(t, "price"),
					Quantity:          rapid.Int64Range(1, 20).Draw(t, "qty"),
					AllOrNone:         rapid.IntRange(0, 5).Draw(t, "aon") == 0,
					ImmediateOrCancel: rapid.IntRange(0, 5).Draw(t, "ioc") == 0,
				}
				if rapid.IntRange(0, 6).Draw(t, "market order") == 0 {
					r.Price = 0
				}
				if rapid.IntRange(0, 4).Draw(t, "stop") == 0 {
					r.StopPrice = rapid.Int64Range(90, 110).Draw(t, "stopPrice")
				}
				if r.AllOrNone {
					aonQty[r.ID] = r.Quantity
				}
				if _, err := book.Add(r); err != nil {
					t.Fatalf("add %+v: %v", r, err)
				}
				live = append(live, r.ID)
			}

			for id, qty := range aonQty {
				if f := filledSoFar[id]; f != 0 && f != qty {
					t.Fatalf("all-or-none order %d filled %d of %d", id, f, qty)
				}
			}
			if err := book.CheckInvariants(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			for id, filled := range filledSoFar {
				if o, ok := book.Order(id); ok && o.Filled != filled {
					t.Fatalf("order %d: book says filled %d, events say %d", id, o.Filled, filled)
				}
			}
		}

		// depth is the leading slice of the full book
		full := book.Book()
		depth := book.Depth(0)
		for i, lvl := range depth.Bids {
			if i >= len(full.Bids) {
				if lvl.Valid {
					t.Fatalf("bid rank %d valid past the book", i)
				}
				continue
			}
			if lvl.Price != full.Bids[i].Price || lvl.Quantity != full.Bids[i].Quantity {
				t.Fatalf("bid rank %d: depth %+v book %+v", i, lvl, full.Bids[i])
			}
		}
	})
}
