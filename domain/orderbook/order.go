package orderbook

type Side uint8
type OrderType uint8
type Status uint8

const (
	Bid Side = iota + 1
	Ask
)

const (
	Limit OrderType = iota + 1
	Market
)

const (
	Unsubmitted Status = iota
	Accepted
	Resting
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

func (s Side) valid() bool { return s == Bid || s == Ask }

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

func (s Status) String() string {
	switch s {
	case Unsubmitted:
		return "UNSUBMITTED"
	case Accepted:
		return "ACCEPTED"
	case Resting:
		return "RESTING"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// Request carries the economic terms of an order submission.
// A zero Price submits a market order; a non-zero StopPrice holds the
// order until the market price reaches it.
type Request struct {
	ID                uint64
	Side              Side
	Price             int64
	Quantity          int64
	StopPrice         int64
	AllOrNone         bool
	ImmediateOrCancel bool
}

// Order is the book's record of one order. Qty is the initial quantity,
// Filled only grows. SeqID orders the record in time priority.
type Order struct {
	ID        uint64
	Side      Side
	Type      OrderType
	Price     int64
	StopPrice int64
	Qty       int64
	Filled    int64
	SeqID     uint64
	Status    Status

	AllOrNone         bool
	ImmediateOrCancel bool
	Triggered         bool

	level *PriceLevel
	next  *Order
	prev  *Order
}

func newOrder(o *Order, r Request) {
	*o = Order{
		ID:                r.ID,
		Side:              r.Side,
		Type:              Limit,
		Price:             r.Price,
		StopPrice:         r.StopPrice,
		Qty:               r.Quantity,
		AllOrNone:         r.AllOrNone,
		ImmediateOrCancel: r.ImmediateOrCancel,
	}
	if r.Price == 0 {
		o.Type = Market
	}
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Next walks the price level the order rests in.
func (o *Order) Next() *Order {
	return o.next
}

func (o *Order) Reset() { *o = Order{} }

// armed reports whether the order still waits for its stop trigger.
func (o *Order) armed() bool {
	return o.StopPrice != 0 && !o.Triggered
}

// crosses reports whether the order may trade against a resting price.
func (o *Order) crosses(price int64) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Bid {
		return o.Price >= price
	}
	return o.Price <= price
}

// triggeredAt reports whether a market price activates the stop.
func (o *Order) triggeredAt(market int64) bool {
	if o.Side == Bid {
		return market >= o.StopPrice
	}
	return market <= o.StopPrice
}

func (o *Order) transition(next Status) {
	invariant(!o.Status.Terminal(), "order %d: %s -> %s after terminal state", o.ID, o.Status, next)
	invariant(next >= o.Status, "order %d: status moved backwards %s -> %s", o.ID, o.Status, next)
	o.Status = next
}

func (o *Order) fill(qty int64) {
	invariant(qty > 0 && qty <= o.Remaining(), "order %d: fill %d exceeds open %d", o.ID, qty, o.Remaining())
	o.Filled += qty
	if o.Remaining() == 0 {
		o.transition(Filled)
	} else {
		o.transition(PartiallyFilled)
	}
}

// view returns a detached copy safe to hand to callers.
func (o *Order) view() Order {
	c := *o
	c.level, c.next, c.prev = nil, nil, nil
	return c
}
