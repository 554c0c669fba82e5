// Package broadcaster drains the event outbox to a message broker with
// at-least-once delivery.
package broadcaster

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	exitwal "depthbook/infra/wal/exit"
)

// Counters receives delivery outcomes; *metrics.Metrics satisfies it.
type Counters interface {
	OutboxPublished(n int)
	OutboxFailed(n int)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries uint32
}

type Broadcaster struct {
	outbox    *exitwal.ExitWAL
	publisher Publisher
	cfg       Config
	log       *zap.Logger
	counters  Counters
}

func New(outbox *exitwal.ExitWAL, publisher Publisher, cfg Config, log *zap.Logger, counters Counters) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		log:       log.Named("broadcaster"),
		counters:  counters,
	}
}

// Run flushes on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("started", zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.FlushOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Warn("flush failed", zap.Error(err))
			}
		}
	}
}

var errBatchFull = errors.New("batch full")

// FlushOnce publishes pending records in sequence order: NEW, SENT
// (interrupted before ack) and FAILED below the retry limit. It stops at
// the first failure so later events never overtake an earlier one, and
// reports how many it published.
func (b *Broadcaster) FlushOnce(ctx context.Context) (int, error) {
	var batch []exitwal.ExitRecord
	err := b.outbox.Scan(func(s exitwal.ExitState) bool {
		return s != exitwal.StateAcked
	}, func(rec exitwal.ExitRecord) error {
		batch = append(batch, rec)
		if len(batch) == b.cfg.BatchSize {
			return errBatchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return 0, err
	}

	published := 0
	defer func() {
		if b.counters != nil && published > 0 {
			b.counters.OutboxPublished(published)
		}
	}()

	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if rec.State == exitwal.StateFailed && b.cfg.MaxRetries > 0 && rec.Retries >= b.cfg.MaxRetries {
			// parked; the sequence stays blocked until an operator acks it
			return published, nil
		}

		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return published, err
		}
		if err := b.publisher.Publish(ctx, rec.Key, rec.Payload); err != nil {
			if b.counters != nil {
				b.counters.OutboxFailed(1)
			}
			b.log.Warn("publish failed",
				zap.Uint64("seq", rec.Seq),
				zap.Uint32("retries", rec.Retries+1),
				zap.Error(err),
			)
			return published, b.outbox.MarkFailed(rec.Seq, rec.Retries+1)
		}
		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
