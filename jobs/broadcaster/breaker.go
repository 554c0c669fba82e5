package broadcaster

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	// MaxFailures consecutive publish failures open the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// BreakerPublisher fails fast while the broker is known to be down, so
// the outbox is not hammered with doomed sends on every tick.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerPublisher(next Publisher, name string, cfg BreakerConfig) *BreakerPublisher {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	return &BreakerPublisher{
		next: next,
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
		}),
	}
}

func (p *BreakerPublisher) Publish(ctx context.Context, key, value []byte) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.Publish(ctx, key, value)
	})
	if err != nil {
		return fmt.Errorf("circuit breaker: %w", err)
	}
	return nil
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.cb.State()
}

func (p *BreakerPublisher) Close() error {
	return p.next.Close()
}
