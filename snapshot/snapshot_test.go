package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthbook/domain/orderbook"
)

func TestWriteLoadLatest(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadLatest(dir)
	require.NoError(t, err)
	assert.Nil(t, s, "snapshot is optional")

	book := orderbook.NewOrderBook()
	_, err = book.Add(orderbook.Request{ID: 1, Side: orderbook.Bid, Price: 99, Quantity: 3})
	require.NoError(t, err)
	_, err = book.Add(orderbook.Request{ID: 2, Side: orderbook.Ask, Quantity: 1, StopPrice: 90})
	require.NoError(t, err)

	w := &Writer{Dir: dir, Keep: 2}
	for seq := uint64(1); seq <= 3; seq++ {
		_, err := w.Write(&Snapshot{Seq: seq, EventSeq: seq * 10, Symbol: "T", State: book.Export()})
		require.NoError(t, err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "snapshot-*.gob"))
	assert.Len(t, files, 2)

	s, err = LoadLatest(dir)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, uint64(3), s.Seq)
	assert.Equal(t, uint64(30), s.EventSeq)
	assert.False(t, s.Created.IsZero())

	restored := orderbook.NewOrderBook()
	require.NoError(t, restored.Restore(s.State))
	assert.Equal(t, book.Book(), restored.Book())
	assert.Equal(t, 1, restored.PendingStops())
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot-00000000000000000001.gob"), []byte("junk"), 0o644))
	_, err := LoadLatest(dir)
	assert.Error(t, err)
}
