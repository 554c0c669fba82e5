package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthbook/domain/orderbook"
	"depthbook/infra/codec"
	"depthbook/infra/metrics"
	entrywal "depthbook/infra/wal/entry"
	exitwal "depthbook/infra/wal/exit"
	"depthbook/snapshot"
)

type env struct {
	root    string
	svc     *OrderService
	entry   *entrywal.WAL
	outbox  *exitwal.ExitWAL
	writer  *snapshot.Writer
	metrics *metrics.Metrics
}

func openEnv(t *testing.T, root string) *env {
	t.Helper()
	entry, err := entrywal.Open(entrywal.Config{Dir: filepath.Join(root, "entry"), SegmentSize: 256})
	require.NoError(t, err)
	outbox, err := exitwal.Open(filepath.Join(root, "exit"))
	require.NoError(t, err)

	m := metrics.New("test", "T")
	svc := NewOrderService(Options{Symbol: "T", DepthSize: 3, RetireRing: 8, Format: codec.Proto}, entry, outbox, m, nil)
	e := &env{
		root:    root,
		svc:     svc,
		entry:   entry,
		outbox:  outbox,
		writer:  &snapshot.Writer{Dir: filepath.Join(root, "snap")},
		metrics: m,
	}
	require.NoError(t, svc.Recover(context.Background(), e.writer.Dir))
	return e
}

func (e *env) close(t *testing.T) {
	t.Helper()
	require.NoError(t, e.entry.Close())
	require.NoError(t, e.outbox.Close())
}

func outboxLen(t *testing.T, w *exitwal.ExitWAL) int {
	t.Helper()
	n := 0
	require.NoError(t, w.Scan(nil, func(exitwal.ExitRecord) error { n++; return nil }))
	return n
}

func workload(t *testing.T, svc *OrderService) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.SetMarketPrice(ctx, 100))
	for i, r := range []orderbook.Request{
		{Side: orderbook.Bid, Price: 99, Quantity: 5},
		{Side: orderbook.Bid, Price: 98, Quantity: 3, AllOrNone: true},
		{Side: orderbook.Ask, Price: 101, Quantity: 4},
		{Side: orderbook.Ask, Price: 102, Quantity: 2},
		{Side: orderbook.Bid, Quantity: 1, StopPrice: 101},
		{Side: orderbook.Ask, Price: 99, Quantity: 2},
	} {
		_, err := svc.Add(ctx, r)
		require.NoError(t, err, "request %d", i)
	}
	price := int64(97)
	_, err := svc.Replace(ctx, ReplaceRequest{ID: 1, Price: &price})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, 4))
}

func TestCommandsAssignIDsAndMatch(t *testing.T) {
	e := openEnv(t, t.TempDir())
	defer e.close(t)
	ctx := context.Background()

	res, err := e.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 100, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, AddResult{OrderID: 1, Matched: false}, res)

	res, err = e.svc.Add(ctx, orderbook.Request{ID: 50, Side: orderbook.Ask, Price: 100, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, AddResult{OrderID: 50, Matched: true}, res)

	res, err = e.svc.Add(ctx, orderbook.Request{Side: orderbook.Ask, Price: 105, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(51), res.OrderID, "server ids continue past client ids")

	bid, ask := e.svc.BestBidAsk()
	assert.Equal(t, orderbook.DepthLevel{Price: 100, Quantity: 6, Orders: 1, Valid: true}, bid)
	assert.Equal(t, int64(105), ask.Price)

	o, ok := e.svc.Order(1)
	require.True(t, ok)
	assert.Equal(t, orderbook.PartiallyFilled, o.Status)

	stats := e.svc.Stats()
	assert.Equal(t, 2, stats.LiveOrders)
	assert.Equal(t, uint64(3), stats.LastSeq)
	assert.Equal(t, int64(100), stats.MarketPrice)
	assert.NoError(t, e.svc.CheckInvariants())
}

func TestRejectedCommandsAreLoggedAndReported(t *testing.T) {
	e := openEnv(t, t.TempDir())
	defer e.close(t)
	ctx := context.Background()

	_, err := e.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 100})
	assert.ErrorIs(t, err, orderbook.ErrValidation)
	assert.ErrorIs(t, e.svc.Cancel(ctx, 99), orderbook.ErrNotFound)
	assert.ErrorIs(t, e.svc.SetMarketPrice(ctx, -1), orderbook.ErrValidation)

	assert.Equal(t, uint64(3), e.entry.LastSeq())
	// Rejected + CancelRejected; a bad market price emits nothing
	assert.Equal(t, 2, outboxLen(t, e.outbox))
}

func TestRetiredIDsCannotBeReused(t *testing.T) {
	root := t.TempDir()
	e := openEnv(t, root)
	ctx := context.Background()

	_, err := e.svc.Add(ctx, orderbook.Request{ID: 1, Side: orderbook.Bid, Price: 100, Quantity: 5})
	require.NoError(t, err)
	res, err := e.svc.Add(ctx, orderbook.Request{ID: 2, Side: orderbook.Ask, Price: 100, Quantity: 5})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.ErrorIs(t, e.svc.Cancel(ctx, 1), orderbook.ErrNotFound)

	_, err = e.svc.Add(ctx, orderbook.Request{ID: 1, Side: orderbook.Ask, Price: 110, Quantity: 3})
	assert.ErrorIs(t, err, orderbook.ErrValidation)
	assert.ErrorIs(t, e.svc.Cancel(ctx, 1), orderbook.ErrNotFound)
	_, ok := e.svc.Order(1)
	assert.False(t, ok)
	assert.Equal(t, uint64(4), e.entry.LastSeq(), "reused id is not logged")
	e.close(t)

	r := openEnv(t, root)
	defer r.close(t)
	_, err = r.svc.Add(ctx, orderbook.Request{ID: 2, Side: orderbook.Bid, Price: 90, Quantity: 1})
	assert.ErrorIs(t, err, orderbook.ErrValidation, "high-water mark survives recovery")
	res, err = r.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 90, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.OrderID)
}

func TestCancelledContextSkipsCommand(t *testing.T) {
	e := openEnv(t, t.TempDir())
	defer e.close(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 100, Quantity: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, e.entry.LastSeq())
}

func TestSubscribersSeeEventsInOrder(t *testing.T) {
	e := openEnv(t, t.TempDir())
	defer e.close(t)

	var types []orderbook.EventType
	e.svc.Subscribe(orderbook.ListenerFunc(func(ev orderbook.Event) {
		types = append(types, ev.Type)
	}))

	ctx := context.Background()
	_, err := e.svc.Add(ctx, orderbook.Request{Side: orderbook.Ask, Price: 100, Quantity: 1})
	require.NoError(t, err)
	_, err = e.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 100, Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, []orderbook.EventType{
		orderbook.EventAccepted, orderbook.EventBookChanged, orderbook.EventDepthChanged,
		orderbook.EventAccepted, orderbook.EventFilled, orderbook.EventFilled, orderbook.EventTrade,
		orderbook.EventBookChanged, orderbook.EventDepthChanged,
	}, types)
}

func TestRecoverFromWAL(t *testing.T) {
	root := t.TempDir()
	e := openEnv(t, root)
	workload(t, e.svc)

	wantBook := e.svc.Book()
	wantDepth := e.svc.Depth(0)
	wantStats := e.svc.Stats()
	events := outboxLen(t, e.outbox)
	e.close(t)

	r := openEnv(t, root)
	defer r.close(t)

	assert.Equal(t, wantBook, r.svc.Book())
	assert.Equal(t, wantDepth, r.svc.Depth(0))
	assert.Equal(t, wantStats, r.svc.Stats())
	assert.Equal(t, events, outboxLen(t, r.outbox), "replay must not duplicate outbox events")

	res, err := r.svc.Add(context.Background(), orderbook.Request{Side: orderbook.Ask, Price: 110, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.OrderID)
	last, err := r.outbox.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(events+3), last)
}

func TestRecoverRewritesLostOutboxEvents(t *testing.T) {
	root := t.TempDir()
	e := openEnv(t, root)
	workload(t, e.svc)
	events := outboxLen(t, e.outbox)
	// drop the newest events as if the process died before writing them
	last, err := e.outbox.LastSeq()
	require.NoError(t, err)
	require.NoError(t, e.outbox.Delete(last))
	require.NoError(t, e.outbox.Delete(last-1))
	e.close(t)

	r := openEnv(t, root)
	defer r.close(t)
	assert.Equal(t, events, outboxLen(t, r.outbox))
}

func TestSnapshotTruncatesAndRecovers(t *testing.T) {
	root := t.TempDir()
	e := openEnv(t, root)
	workload(t, e.svc)

	// ack everything so the snapshot can garbage collect the outbox
	require.NoError(t, e.outbox.Scan(nil, func(rec exitwal.ExitRecord) error {
		return e.outbox.MarkAcked(rec.Seq)
	}))

	snap, err := e.svc.TakeSnapshot(e.writer)
	require.NoError(t, err)
	assert.Equal(t, e.svc.Stats().LastSeq, snap.Seq)
	assert.Zero(t, outboxLen(t, e.outbox))

	replayed := 0
	_, err = entrywal.Replay(e.entry.Dir(), 0, func(*entrywal.Record) error { replayed++; return nil })
	require.NoError(t, err)
	assert.Less(t, replayed, int(snap.Seq), "covered segments are removed")

	ctx := context.Background()
	_, err = e.svc.Add(ctx, orderbook.Request{Side: orderbook.Bid, Price: 96, Quantity: 2})
	require.NoError(t, err)
	require.NoError(t, e.svc.SetMarketPrice(ctx, 101))

	wantBook := e.svc.Book()
	wantStats := e.svc.Stats()
	e.close(t)

	r := openEnv(t, root)
	defer r.close(t)
	assert.Equal(t, wantBook, r.svc.Book())
	assert.Equal(t, wantStats, r.svc.Stats())
	assert.NoError(t, r.svc.CheckInvariants())
}
