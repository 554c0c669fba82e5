package orderbook

// Allocator hands out order records and takes them back once they leave
// the book. A retired record must not be handed out again before the
// command that retired it returns.
type Allocator interface {
	Get() *Order
	Retire(*Order)
}

type heapAllocator struct{}

func (heapAllocator) Get() *Order   { return new(Order) }
func (heapAllocator) Retire(*Order) {}

type Option func(*OrderBook)

// WithDepthSize sets the number of ranks kept per side in the depth view.
func WithDepthSize(n int) Option {
	return func(b *OrderBook) {
		if n > 0 {
			b.depth = newDepth(n)
		}
	}
}

// WithMaxDepthLevels caps the ranks Depth returns per side. Values
// below the depth size are raised to it.
func WithMaxDepthLevels(n int) Option {
	return func(b *OrderBook) {
		if n > 0 {
			b.maxDepth = n
		}
	}
}

func WithListener(l Listener) Option {
	return func(b *OrderBook) {
		if l != nil {
			b.listener = l
		}
	}
}

func WithAllocator(a Allocator) Option {
	return func(b *OrderBook) {
		if a != nil {
			b.alloc = a
		}
	}
}

// WithMaxCascade bounds how many stop activations one command may run.
// Stops beyond the bound are re-armed and wait for the next price update.
func WithMaxCascade(n int) Option {
	return func(b *OrderBook) { b.maxCascade = n }
}

type fill struct {
	resting *Order
	qty     int64
}

// OrderBook is single-writer and deterministic: the same command
// sequence always yields the same events and state.
type OrderBook struct {
	Bids *RBTree
	Asks *RBTree

	depth  *Depth
	stops  *stopBook
	orders map[uint64]*Order

	seq         uint64
	marketPrice int64
	marketSet   bool

	listener   Listener
	alloc      Allocator
	maxCascade int
	maxDepth   int

	queue      []*Order
	plan       []fill
	bookDirty  bool
	depthDirty bool
}

func NewOrderBook(opts ...Option) *OrderBook {
	b := &OrderBook{
		Bids:     NewRBTree(Bid),
		Asks:     NewRBTree(Ask),
		depth:    newDepth(DefaultDepthSize),
		stops:    newStopBook(),
		orders:   make(map[uint64]*Order),
		listener: nopListener{},
		alloc:    heapAllocator{},
		maxDepth: DefaultMaxDepthLevels,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxDepth < b.depth.Size() {
		b.maxDepth = b.depth.Size()
	}
	return b
}

// ---- commands ----

// Add submits an order and reports whether it traded before returning.
// Pending stops never trade on submission unless the market price
// already satisfies their trigger.
func (b *OrderBook) Add(r Request) (bool, error) {
	if err := b.validate(r, true); err != nil {
		b.emit(Event{
			Type: EventRejected, OrderID: r.ID, Side: r.Side, Price: r.Price,
			Quantity: r.Quantity, Status: Rejected, Reason: err.Error(),
		})
		return false, err
	}

	o := b.alloc.Get()
	newOrder(o, r)
	o.transition(Accepted)
	b.orders[o.ID] = o
	b.emit(Event{
		Type: EventAccepted, OrderID: o.ID, Side: o.Side, Price: o.Price,
		Quantity: o.Qty, Remaining: o.Remaining(), Status: o.Status,
	})

	matched := b.submit(o)
	b.settle()
	return matched, nil
}

// Cancel withdraws a resting order or a pending stop.
func (b *OrderBook) Cancel(id uint64) error {
	o, ok := b.orders[id]
	if !ok {
		err := notFound(id)
		b.emit(Event{Type: EventCancelRejected, OrderID: id, Reason: err.Error()})
		return err
	}

	b.withdraw(o)
	left := o.Remaining()
	o.transition(Cancelled)
	b.emit(Event{
		Type: EventCancelled, OrderID: o.ID, Side: o.Side, Price: o.Price,
		Quantity: left, Status: o.Status, Reason: "cancelled",
	})
	b.retire(o)
	b.settle()
	return nil
}

type replaceTerms struct {
	price    *int64
	quantity *int64
}

type ReplaceOption func(*replaceTerms)

func WithPrice(p int64) ReplaceOption {
	return func(t *replaceTerms) { t.price = &p }
}

func WithQuantity(q int64) ReplaceOption {
	return func(t *replaceTerms) { t.quantity = &q }
}

// Replace cancels the order and resubmits it under the same id with the
// open quantity (or the new quantity) at the new (or original) price.
// The replacement joins the back of its level's queue.
func (b *OrderBook) Replace(id uint64, opts ...ReplaceOption) (bool, error) {
	o, ok := b.orders[id]
	if !ok {
		err := notFound(id)
		b.emit(Event{Type: EventReplaceRejected, OrderID: id, Reason: err.Error()})
		return false, err
	}

	var terms replaceTerms
	for _, opt := range opts {
		opt(&terms)
	}
	r := Request{
		ID:                o.ID,
		Side:              o.Side,
		Price:             o.Price,
		Quantity:          o.Remaining(),
		AllOrNone:         o.AllOrNone,
		ImmediateOrCancel: o.ImmediateOrCancel,
	}
	if o.armed() {
		r.StopPrice = o.StopPrice
	}
	if terms.price != nil {
		r.Price = *terms.price
	}
	if terms.quantity != nil {
		r.Quantity = *terms.quantity
	}
	if err := b.validate(r, false); err != nil {
		b.emit(Event{Type: EventReplaceRejected, OrderID: id, Reason: err.Error()})
		return false, err
	}

	b.withdraw(o)
	o.transition(Cancelled)
	b.retire(o)

	n := b.alloc.Get()
	newOrder(n, r)
	n.transition(Accepted)
	b.orders[n.ID] = n
	b.emit(Event{
		Type: EventReplaced, OrderID: n.ID, Side: n.Side, Price: n.Price,
		Quantity: n.Qty, Remaining: n.Remaining(), Status: n.Status,
	})

	matched := b.submit(n)
	b.settle()
	return matched, nil
}

// SetMarketPrice seeds the market price without a trade and activates
// any stop it triggers.
func (b *OrderBook) SetMarketPrice(price int64) error {
	if price <= 0 {
		return invalid("market price %d must be positive", price)
	}
	b.setMarket(price)
	b.emit(Event{Type: EventMarketPrice, Price: price})
	b.settle()
	return nil
}

// ---- matching ----

func (b *OrderBook) validate(r Request, fresh bool) error {
	switch {
	case r.ID == 0:
		return invalid("order id must be non-zero")
	case !r.Side.valid():
		return invalid("order %d: unknown side %d", r.ID, r.Side)
	case r.Quantity <= 0:
		return invalid("order %d: quantity %d must be positive", r.ID, r.Quantity)
	case r.Price < 0:
		return invalid("order %d: negative price %d", r.ID, r.Price)
	case r.StopPrice < 0:
		return invalid("order %d: negative stop price %d", r.ID, r.StopPrice)
	}
	if _, dup := b.orders[r.ID]; fresh && dup {
		return invalid("order %d: duplicate id", r.ID)
	}
	return nil
}

func (b *OrderBook) submit(o *Order) bool {
	if o.armed() {
		if !b.marketSet || !o.triggeredAt(b.marketPrice) {
			o.SeqID = b.nextSeq()
			b.stops.add(o)
			return false
		}
		b.activate(o)
	}
	return b.match(o)
}

func (b *OrderBook) match(o *Order) bool {
	plan := b.planFor(o)
	for _, f := range plan {
		b.execute(o, f)
	}
	matched := len(plan) > 0
	clear(plan)
	b.plan = plan[:0]

	invariant(!o.AllOrNone || o.Filled == 0 || o.Remaining() == 0,
		"order %d: all-or-none left partially filled", o.ID)

	switch {
	case o.Remaining() == 0:
		b.retire(o)
	case o.Type == Market || o.ImmediateOrCancel:
		left := o.Remaining()
		reason := "immediate-or-cancel"
		if o.Type == Market {
			reason = "no liquidity"
		}
		o.transition(Cancelled)
		b.emit(Event{
			Type: EventCancelled, OrderID: o.ID, Side: o.Side, Price: o.Price,
			Quantity: left, Status: o.Status, Reason: reason,
		})
		b.retire(o)
	default:
		b.rest(o)
	}
	return matched
}

// planFor walks the crossing levels in price-time priority and decides
// every execution before any state changes. Resting all-or-none orders
// larger than the remainder are skipped; an all-or-none aggressor gets
// an empty plan unless the whole quantity is available.
func (b *OrderBook) planFor(o *Order) []fill {
	plan := b.plan[:0]
	need := o.Remaining()
	opp := b.side(opposite(o.Side))
	for lvl := opp.Best(); lvl != nil && need > 0 && o.crosses(lvl.Price); lvl = opp.Behind(lvl.Price) {
		for r := lvl.Head(); r != nil && need > 0; r = r.Next() {
			open := r.Remaining()
			if r.AllOrNone && open > need {
				continue
			}
			qty := min(open, need)
			plan = append(plan, fill{resting: r, qty: qty})
			need -= qty
		}
	}
	if o.AllOrNone && need > 0 {
		clear(plan)
		return plan[:0]
	}
	return plan
}

func (b *OrderBook) execute(o *Order, f fill) {
	r := f.resting
	lvl := r.level
	price := r.Price

	o.fill(f.qty)
	r.fill(f.qty)
	lvl.reduce(f.qty)

	b.emit(Event{
		Type: EventFilled, OrderID: o.ID, CounterID: r.ID, Side: o.Side, Price: price,
		Quantity: f.qty, Remaining: o.Remaining(), Status: o.Status,
	})
	b.emit(Event{
		Type: EventFilled, OrderID: r.ID, CounterID: o.ID, Side: r.Side, Price: price,
		Quantity: f.qty, Remaining: r.Remaining(), Status: r.Status,
	})
	b.emit(Event{
		Type: EventTrade, OrderID: o.ID, CounterID: r.ID, Side: o.Side, Price: price,
		Quantity: f.qty,
	})

	if r.Remaining() == 0 {
		b.unlink(r)
		b.retire(r)
	} else {
		b.touch(r.Side, price, lvl)
	}
	b.setMarket(price)
}

func (b *OrderBook) rest(o *Order) {
	o.SeqID = b.nextSeq()
	lvl, _ := b.side(o.Side).Upsert(o.Price)
	lvl.Enqueue(o)
	if o.Status == Accepted {
		o.transition(Resting)
	}
	b.touch(o.Side, o.Price, lvl)
}

// withdraw removes a live order from wherever it is linked.
func (b *OrderBook) withdraw(o *Order) {
	if o.armed() {
		b.stops.remove(o)
		return
	}
	b.unlink(o)
}

func (b *OrderBook) unlink(o *Order) {
	lvl := o.level
	invariant(lvl != nil, "order %d is not resting", o.ID)
	lvl.Remove(o)
	if lvl.Empty() {
		b.side(o.Side).Delete(lvl.Price)
		b.touch(o.Side, lvl.Price, nil)
		return
	}
	b.touch(o.Side, lvl.Price, lvl)
}

// touch records a level mutation and mirrors it into the depth view.
func (b *OrderBook) touch(side Side, price int64, lvl *PriceLevel) {
	b.bookDirty = true
	if b.depth.side(side).apply(price, lvl, b.side(side)) {
		b.depthDirty = true
	}
}

func (b *OrderBook) retire(o *Order) {
	if b.orders[o.ID] == o {
		delete(b.orders, o.ID)
	}
	b.alloc.Retire(o)
}

// ---- stops ----

func (b *OrderBook) setMarket(price int64) {
	b.marketPrice, b.marketSet = price, true
	b.queue = b.stops.collect(price, b.queue)
}

func (b *OrderBook) activate(o *Order) {
	o.Triggered = true
	b.emit(Event{
		Type: EventStopTriggered, OrderID: o.ID, Side: o.Side, Price: o.StopPrice,
		Quantity: o.Qty, Remaining: o.Remaining(), Status: o.Status,
	})
}

// settle drains the activation queue breadth-first, then publishes the
// command's aggregate book and depth changes.
func (b *OrderBook) settle() {
	activated := 0
	for i := 0; i < len(b.queue); i++ {
		if b.maxCascade > 0 && activated >= b.maxCascade {
			for _, o := range b.queue[i:] {
				b.stops.add(o)
			}
			break
		}
		o := b.queue[i]
		b.queue[i] = nil
		b.activate(o)
		b.match(o)
		activated++
	}
	clear(b.queue)
	b.queue = b.queue[:0]

	if b.bookDirty {
		b.emit(Event{Type: EventBookChanged})
	}
	if b.depthDirty {
		snap := b.depth.Snapshot(b.depth.Size())
		b.emit(Event{Type: EventDepthChanged, Depth: &snap})
	}
	b.bookDirty, b.depthDirty = false, false
}

// ---- helpers ----

func (b *OrderBook) side(s Side) *RBTree {
	if s == Bid {
		return b.Bids
	}
	return b.Asks
}

func opposite(s Side) Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (b *OrderBook) nextSeq() uint64 {
	b.seq++
	return b.seq
}

func (b *OrderBook) emit(e Event) {
	b.listener.OnEvent(e)
}
