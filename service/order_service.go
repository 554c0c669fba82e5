package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"depthbook/domain/orderbook"
	"depthbook/infra/codec"
	"depthbook/infra/memory"
	"depthbook/infra/metrics"
	"depthbook/infra/sequence"
	entrywal "depthbook/infra/wal/entry"
	exitwal "depthbook/infra/wal/exit"
)

// ErrHalted is returned once the book has detected internal corruption.
var ErrHalted = errors.New("service: engine halted")

type Options struct {
	Symbol     string
	DepthSize  int
	MaxCascade int
	RetireRing uint64
	Format     codec.Format

	// MaxDepthLevels caps depth queries; 0 keeps the book default.
	MaxDepthLevels int
}

// ReplaceRequest changes the price and/or quantity of a live order. Nil
// fields keep the current terms.
type ReplaceRequest struct {
	ID       uint64
	Price    *int64
	Quantity *int64
}

type AddResult struct {
	OrderID uint64
	Matched bool
}

// Stats is a point-in-time summary of the book.
type Stats struct {
	Symbol       string
	LiveOrders   int
	PendingStops int
	BidLevels    int
	AskLevels    int
	MarketPrice  int64
	MarketSet    bool
	LastSeq      uint64
}

type OrderService struct {
	mu     sync.RWMutex
	halted bool

	symbol string
	format codec.Format
	book   *orderbook.OrderBook
	alloc  *memory.OrderAllocator

	cmdSeq   *sequence.Sequencer
	eventSeq *sequence.Sequencer
	orderIDs *sequence.Sequencer

	entryWAL *entrywal.WAL
	exitWAL  *exitwal.ExitWAL
	metrics  *metrics.Metrics
	log      *zap.Logger

	listeners   orderbook.Listeners
	pending     []orderbook.Event
	outboxFloor uint64
	replaying   bool
}

// NewOrderService wires all dependencies. exitWAL and m may be nil.
func NewOrderService(
	opts Options,
	entryWAL *entrywal.WAL,
	exitWAL *exitwal.ExitWAL,
	m *metrics.Metrics,
	log *zap.Logger,
) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RetireRing == 0 {
		opts.RetireRing = 4096
	}
	s := &OrderService{
		symbol:   opts.Symbol,
		format:   opts.Format,
		alloc:    memory.NewOrderAllocator(opts.RetireRing),
		cmdSeq:   sequence.New(0),
		eventSeq: sequence.New(0),
		orderIDs: sequence.New(0),
		entryWAL: entryWAL,
		exitWAL:  exitWAL,
		metrics:  m,
		log:      log.Named("service"),
	}
	s.book = orderbook.NewOrderBook(
		orderbook.WithDepthSize(opts.DepthSize),
		orderbook.WithMaxCascade(opts.MaxCascade),
		orderbook.WithMaxDepthLevels(opts.MaxDepthLevels),
		orderbook.WithAllocator(s.alloc),
		orderbook.WithListener(orderbook.ListenerFunc(s.collect)),
	)
	if m != nil {
		s.listeners = append(s.listeners, m)
	}
	return s
}

// Subscribe registers a listener for live events. Listeners run under
// the writer lock and must not block or call back into the service.
// Register them before serving traffic.
func (s *OrderService) Subscribe(l orderbook.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Add submits an order. A zero ID asks the service to assign one; a
// client ID must be above every ID the service has seen, so filled and
// cancelled IDs stay retired.
func (s *OrderService) Add(ctx context.Context, r orderbook.Request) (AddResult, error) {
	var res AddResult
	err := s.exec(ctx, "add", func() (entrywal.Command, error) {
		switch {
		case r.ID == 0:
			r.ID = s.orderIDs.Next()
		case r.ID <= s.orderIDs.Current():
			return entrywal.Command{}, fmt.Errorf("%w: order %d: id already used", orderbook.ErrValidation, r.ID)
		default:
			s.orderIDs.Observe(r.ID)
		}
		return entrywal.Command{
			Type:              entrywal.RecordAdd,
			OrderID:           r.ID,
			Side:              uint8(r.Side),
			Price:             r.Price,
			Quantity:          r.Quantity,
			StopPrice:         r.StopPrice,
			AllOrNone:         r.AllOrNone,
			ImmediateOrCancel: r.ImmediateOrCancel,
		}, nil
	}, func(cmd entrywal.Command) error {
		matched, err := s.apply(cmd)
		res = AddResult{OrderID: cmd.OrderID, Matched: matched}
		return err
	})
	return res, err
}

func (s *OrderService) Cancel(ctx context.Context, id uint64) error {
	return s.exec(ctx, "cancel", func() (entrywal.Command, error) {
		return entrywal.Command{Type: entrywal.RecordCancel, OrderID: id}, nil
	}, func(cmd entrywal.Command) error {
		_, err := s.apply(cmd)
		return err
	})
}

func (s *OrderService) Replace(ctx context.Context, r ReplaceRequest) (bool, error) {
	var matched bool
	err := s.exec(ctx, "replace", func() (entrywal.Command, error) {
		cmd := entrywal.Command{Type: entrywal.RecordReplace, OrderID: r.ID}
		if r.Price != nil {
			cmd.Price, cmd.HasPrice = *r.Price, true
		}
		if r.Quantity != nil {
			cmd.Quantity, cmd.HasQuantity = *r.Quantity, true
		}
		return cmd, nil
	}, func(cmd entrywal.Command) error {
		var err error
		matched, err = s.apply(cmd)
		return err
	})
	return matched, err
}

func (s *OrderService) SetMarketPrice(ctx context.Context, price int64) error {
	return s.exec(ctx, "market_price", func() (entrywal.Command, error) {
		return entrywal.Command{Type: entrywal.RecordMarketPrice, Price: price}, nil
	}, func(cmd entrywal.Command) error {
		_, err := s.apply(cmd)
		return err
	})
}

// exec runs one command under the writer lock: build, log, apply, flush.
func (s *OrderService) exec(
	ctx context.Context,
	name string,
	build func() (entrywal.Command, error),
	run func(entrywal.Command) error,
) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveCommand(name, err, time.Since(start))
		}
	}()

	if s.halted {
		return ErrHalted
	}

	cmd, err := build()
	if err != nil {
		return err
	}
	seq := s.cmdSeq.Next()
	walStart := time.Now()
	if err := s.entryWAL.Append(cmd.Record(seq)); err != nil {
		s.log.Error("entry wal append failed", zap.String("command", name), zap.Uint64("seq", seq), zap.Error(err))
		return fmt.Errorf("wal append: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveWALAppend(time.Since(walStart))
	}

	defer s.guard(name, seq)
	err = run(cmd)
	s.flush()
	return err
}

// guard halts the engine when the book panics on a broken invariant.
func (s *OrderService) guard(name string, seq uint64) {
	r := recover()
	if r == nil {
		return
	}
	s.halted = true
	s.pending = s.pending[:0]
	s.log.Error("book invariant violated; engine halted",
		zap.String("command", name),
		zap.Uint64("seq", seq),
		zap.Any("panic", r),
	)
	panic(r)
}

// apply executes a logged command against the book. Replay goes through
// the same path, so results are identical.
func (s *OrderService) apply(cmd entrywal.Command) (bool, error) {
	switch cmd.Type {
	case entrywal.RecordAdd:
		return s.book.Add(orderbook.Request{
			ID:                cmd.OrderID,
			Side:              orderbook.Side(cmd.Side),
			Price:             cmd.Price,
			Quantity:          cmd.Quantity,
			StopPrice:         cmd.StopPrice,
			AllOrNone:         cmd.AllOrNone,
			ImmediateOrCancel: cmd.ImmediateOrCancel,
		})
	case entrywal.RecordCancel:
		return false, s.book.Cancel(cmd.OrderID)
	case entrywal.RecordReplace:
		var opts []orderbook.ReplaceOption
		if cmd.HasPrice {
			opts = append(opts, orderbook.WithPrice(cmd.Price))
		}
		if cmd.HasQuantity {
			opts = append(opts, orderbook.WithQuantity(cmd.Quantity))
		}
		return s.book.Replace(cmd.OrderID, opts...)
	case entrywal.RecordMarketPrice:
		return false, s.book.SetMarketPrice(cmd.Price)
	default:
		return false, fmt.Errorf("unknown command type %d", cmd.Type)
	}
}

func (s *OrderService) collect(e orderbook.Event) {
	s.pending = append(s.pending, e)
}

// flush numbers the command's events, makes them durable in the outbox
// and hands them to listeners, then recycles retired order records.
func (s *OrderService) flush() {
	events := s.pending
	s.pending = s.pending[:0]

	if len(events) > 0 {
		s.publish(events)
	}
	if !s.replaying {
		for _, e := range events {
			s.listeners.OnEvent(e)
		}
		if s.metrics != nil {
			market, ok := s.book.MarketPrice()
			s.metrics.ObserveBook(s.book.Len(), s.book.PendingStops(), market, ok)
		}
	}

	n := s.alloc.Reclaim()
	if s.metrics != nil && n > 0 {
		s.metrics.Reclaimed(n)
	}
}

func (s *OrderService) publish(events []orderbook.Event) {
	now := time.Now().UnixNano()
	msgs := make([]exitwal.Message, 0, len(events))
	for _, e := range events {
		env := codec.Envelope{Seq: s.eventSeq.Next(), Symbol: s.symbol, Time: now, Event: e}
		if s.exitWAL == nil || env.Seq <= s.outboxFloor {
			continue
		}
		payload, err := codec.Encode(s.format, env)
		if err != nil {
			s.log.Error("event encode failed", zap.Uint64("event_seq", env.Seq), zap.Error(err))
			continue
		}
		msgs = append(msgs, exitwal.Message{Seq: env.Seq, Key: env.Key(), Payload: payload})
	}
	if len(msgs) == 0 {
		return
	}
	if err := s.exitWAL.PutNew(msgs...); err != nil {
		// the command is already logged; replay regenerates these events
		s.log.Error("outbox write failed",
			zap.Uint64("first_event_seq", msgs[0].Seq),
			zap.Int("events", len(msgs)),
			zap.Error(err),
		)
	}
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) Depth(n int) orderbook.DepthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Depth(n)
}

// MaxDepthLevels is fixed at construction and needs no lock.
func (s *OrderService) MaxDepthLevels() int { return s.book.MaxDepthLevels() }

func (s *OrderService) Book() orderbook.BookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Book()
}

func (s *OrderService) Order(id uint64) (orderbook.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Order(id)
}

// BestBidAsk returns rank 0 of each side; Valid is false when empty.
func (s *OrderService) BestBidAsk() (bid, ask orderbook.DepthLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.BestBid(), s.book.BestAsk()
}

func (s *OrderService) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	market, ok := s.book.MarketPrice()
	return Stats{
		Symbol:       s.symbol,
		LiveOrders:   s.book.Len(),
		PendingStops: s.book.PendingStops(),
		BidLevels:    s.book.Bids.Size(),
		AskLevels:    s.book.Asks.Size(),
		MarketPrice:  market,
		MarketSet:    ok,
		LastSeq:      s.cmdSeq.Current(),
	}
}

func (s *OrderService) Symbol() string { return s.symbol }

// CheckInvariants audits the book under the read lock.
func (s *OrderService) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.CheckInvariants()
}
