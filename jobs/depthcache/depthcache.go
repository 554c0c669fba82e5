// Package depthcache mirrors the depth view into Redis for readers that
// do not talk to the engine directly.
package depthcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"depthbook/domain/orderbook"
)

// Client is the subset of redis.Cmdable the cache uses.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func Key(symbol string) string     { return "ob:" + symbol }
func Channel(symbol string) string { return "ob:" + symbol + ":updates" }

// Document is the cached value.
type Document struct {
	Symbol string                  `json:"symbol"`
	Seq    uint64                  `json:"seq"`
	Depth  orderbook.DepthSnapshot `json:"depth"`
}

// Cache coalesces DepthChanged events: only the newest depth is written
// when Redis falls behind the book. With a TTL the key is rewritten every
// half TTL, so it outlives quiet periods but not the engine.
type Cache struct {
	client Client
	symbol string
	ttl    time.Duration
	log    *zap.Logger

	latest chan Document
	seq    uint64

	// last encoded document, owned by Run once it starts
	last []byte
}

func New(client Client, symbol string, ttl time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		client: client,
		symbol: symbol,
		ttl:    ttl,
		log:    log.Named("depthcache"),
		latest: make(chan Document, 1),
	}
}

// OnEvent runs on the writer goroutine and never blocks.
func (c *Cache) OnEvent(e orderbook.Event) {
	if e.Type != orderbook.EventDepthChanged || e.Depth == nil {
		return
	}
	c.seq++
	doc := Document{Symbol: c.symbol, Seq: c.seq, Depth: *e.Depth}
	for {
		select {
		case c.latest <- doc:
			return
		default:
		}
		select {
		case <-c.latest:
		default:
		}
	}
}

// Prime stores the current depth before any event arrives. Call it
// before Run.
func (c *Cache) Prime(ctx context.Context, d orderbook.DepthSnapshot) error {
	return c.store(ctx, Document{Symbol: c.symbol, Depth: d})
}

// Run writes depth updates until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	var refresh <-chan time.Time
	if c.ttl > 0 {
		t := time.NewTicker(c.ttl / 2)
		defer t.Stop()
		refresh = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case doc := <-c.latest:
			if err := c.store(ctx, doc); err != nil {
				c.log.Warn("depth cache write failed", zap.Uint64("seq", doc.Seq), zap.Error(err))
			}
		case <-refresh:
			if c.last == nil {
				continue
			}
			if err := c.client.Set(ctx, Key(c.symbol), c.last, c.ttl).Err(); err != nil {
				c.log.Warn("depth cache refresh failed", zap.Error(err))
			}
		}
	}
}

func (c *Cache) store(ctx context.Context, doc Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	c.last = b
	if err := c.client.Set(ctx, Key(c.symbol), b, c.ttl).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, Channel(c.symbol), b).Err()
}
