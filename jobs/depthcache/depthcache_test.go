package depthcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depthbook/domain/orderbook"
)

type fakeClient struct {
	mu        sync.Mutex
	sets      map[string][]byte
	ttl       time.Duration
	writes    int
	published [][]byte
	failSet   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{sets: make(map[string][]byte)}
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.sets[key] = value.([]byte)
	f.ttl = exp
	f.writes++
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) get(key string) (Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.sets[key]
	if !ok {
		return Document{}, false
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return Document{}, false
	}
	return d, true
}

func depthEvent(bidPrice int64) orderbook.Event {
	return orderbook.Event{
		Type: orderbook.EventDepthChanged,
		Depth: &orderbook.DepthSnapshot{
			Bids: []orderbook.DepthLevel{{Price: bidPrice, Quantity: 10, Orders: 1, Valid: true}},
			Asks: []orderbook.DepthLevel{{}},
		},
	}
}

func TestOnEventKeepsOnlyLatestDepth(t *testing.T) {
	c := New(newFakeClient(), "BTC-USD", time.Minute, nil)
	c.OnEvent(depthEvent(100))
	c.OnEvent(orderbook.Event{Type: orderbook.EventTrade})
	c.OnEvent(depthEvent(101))
	c.OnEvent(depthEvent(102))

	require.Len(t, c.latest, 1)
	doc := <-c.latest
	assert.Equal(t, uint64(3), doc.Seq)
	assert.Equal(t, int64(102), doc.Depth.Bids[0].Price)
}

func TestRunWritesAndPublishes(t *testing.T) {
	client := newFakeClient()
	c := New(client, "BTC-USD", 30*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.OnEvent(depthEvent(100))
	require.Eventually(t, func() bool {
		d, ok := client.get(Key("BTC-USD"))
		return ok && d.Depth.Bids[0].Price == 100
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 30*time.Second, client.ttl)
	assert.Len(t, client.published, 1)
}

func TestRunRefreshesKeyWhileDepthIsQuiet(t *testing.T) {
	client := newFakeClient()
	c := New(client, "BTC-USD", 40*time.Millisecond, nil)
	require.NoError(t, c.Prime(context.Background(), *depthEvent(100).Depth))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.writes >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	d, ok := client.get(Key("BTC-USD"))
	require.True(t, ok)
	assert.Equal(t, int64(100), d.Depth.Bids[0].Price)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 40*time.Millisecond, client.ttl)
	assert.Len(t, client.published, 1, "refreshes are not published")
}

func TestRunWithoutTTLNeverRefreshes(t *testing.T) {
	client := newFakeClient()
	c := New(client, "BTC-USD", 0, nil)
	require.NoError(t, c.Prime(context.Background(), orderbook.DepthSnapshot{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.writes)
	assert.Zero(t, client.ttl)
}

func TestPrimeSurfacesErrors(t *testing.T) {
	client := newFakeClient()
	client.failSet = errors.New("connection refused")
	c := New(client, "BTC-USD", time.Minute, nil)

	err := c.Prime(context.Background(), orderbook.DepthSnapshot{})
	require.Error(t, err)
	assert.Empty(t, client.published)
}
