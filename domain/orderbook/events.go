package orderbook

type EventType uint8

const (
	EventAccepted EventType = iota + 1
	EventRejected
	EventFilled
	EventTrade
	EventCancelled
	EventCancelRejected
	EventReplaced
	EventReplaceRejected
	EventStopTriggered
	EventMarketPrice
	EventBookChanged
	EventDepthChanged
)

func (t EventType) String() string {
	switch t {
	case EventAccepted:
		return "ACCEPTED"
	case EventRejected:
		return "REJECTED"
	case EventFilled:
		return "FILLED"
	case EventTrade:
		return "TRADE"
	case EventCancelled:
		return "CANCELLED"
	case EventCancelRejected:
		return "CANCEL_REJECTED"
	case EventReplaced:
		return "REPLACED"
	case EventReplaceRejected:
		return "REPLACE_REJECTED"
	case EventStopTriggered:
		return "STOP_TRIGGERED"
	case EventMarketPrice:
		return "MARKET_PRICE"
	case EventBookChanged:
		return "BOOK_CHANGED"
	case EventDepthChanged:
		return "DEPTH_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Event is a value copy of one book transition.
//
//	Filled:    OrderID was filled Quantity at Price against CounterID.
//	Trade:     OrderID (aggressor) traded Quantity at Price with CounterID (resting).
//	Cancelled: Quantity is the open quantity removed.
//	Replaced:  Price/Quantity are the new terms.
//	Depth:     set only for DepthChanged.
type Event struct {
	Type      EventType
	OrderID   uint64
	CounterID uint64
	Side      Side
	Price     int64
	Quantity  int64
	Remaining int64
	Status    Status
	Reason    string
	Depth     *DepthSnapshot
}

// Listener receives events synchronously, in book order, on the
// writer's goroutine. Implementations must not call back into the book.
type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type nopListener struct{}

func (nopListener) OnEvent(Event) {}

// Listeners fans one event out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnEvent(e Event) {
	for _, l := range ls {
		l.OnEvent(e)
	}
}
