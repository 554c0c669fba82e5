package broadcaster

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exitwal "depthbook/infra/wal/exit"
)

type fakePublisher struct {
	sent   [][]byte
	failAt int
}

func (f *fakePublisher) Publish(_ context.Context, _, value []byte) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		f.failAt = 0
		return errors.New("broker down")
	}
	f.sent = append(f.sent, value)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type counters struct{ ok, failed int }

func (c *counters) OutboxPublished(n int) { c.ok += n }
func (c *counters) OutboxFailed(n int)    { c.failed += n }

func newOutbox(t *testing.T, n int) *exitwal.ExitWAL {
	t.Helper()
	w, err := exitwal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	for seq := 1; seq <= n; seq++ {
		require.NoError(t, w.PutNew(exitwal.Message{Seq: uint64(seq), Payload: []byte{byte(seq)}}))
	}
	return w
}

func state(t *testing.T, w *exitwal.ExitWAL, seq uint64) exitwal.ExitState {
	t.Helper()
	rec, err := w.Get(seq)
	require.NoError(t, err)
	return rec.State
}

func TestFlushPublishesInOrder(t *testing.T) {
	outbox := newOutbox(t, 3)
	pub := &fakePublisher{}
	c := &counters{}
	b := New(outbox, pub, Config{}, nil, c)

	n, err := b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, pub.sent)
	assert.Equal(t, exitwal.StateAcked, state(t, outbox, 3))
	assert.Equal(t, 3, c.ok)

	n, err = b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFlushStopsAtFailureAndRetries(t *testing.T) {
	outbox := newOutbox(t, 3)
	pub := &fakePublisher{failAt: 2}
	c := &counters{}
	b := New(outbox, pub, Config{MaxRetries: 3}, nil, c)

	n, err := b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, exitwal.StateFailed, state(t, outbox, 2))
	assert.Equal(t, exitwal.StateNew, state(t, outbox, 3))
	assert.Equal(t, 1, c.failed)

	n, err = b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, pub.sent)
}

func TestFlushBatchSize(t *testing.T) {
	outbox := newOutbox(t, 5)
	pub := &fakePublisher{}
	b := New(outbox, pub, Config{BatchSize: 2}, nil, nil)

	n, err := b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, exitwal.StateNew, state(t, outbox, 3))
}

func TestParkedRecordBlocksSequence(t *testing.T) {
	outbox := newOutbox(t, 2)
	require.NoError(t, outbox.MarkFailed(1, 3))
	pub := &fakePublisher{}
	b := New(outbox, pub, Config{MaxRetries: 3}, nil, nil)

	n, err := b.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.sent)
}

func TestSaramaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, SaramaConfig("test"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "payload" {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewSaramaPublisherFrom(producer, "events")
	require.NoError(t, pub.Publish(context.Background(), []byte("k"), []byte("payload")))
	assert.ErrorIs(t, pub.Publish(context.Background(), nil, []byte("again")), sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}
