package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"depthbook/snapshot"
)

// TakeSnapshot writes a consistent image of the book, then drops the
// entry-WAL segments and acked outbox records it covers.
func (s *OrderService) TakeSnapshot(w *snapshot.Writer) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	snap := &snapshot.Snapshot{
		Seq:      s.cmdSeq.Current(),
		EventSeq: s.eventSeq.Current(),
		OrderID:  s.orderIDs.Current(),
		Symbol:   s.symbol,
		Created:  time.Now(),
		State:    s.book.Export(),
	}
	s.mu.RUnlock()

	path, err := w.Write(snap)
	if err != nil {
		return nil, err
	}

	removed, err := s.entryWAL.TruncateBefore(snap.Seq)
	if err != nil {
		s.log.Warn("entry wal truncate failed", zap.Error(err))
	}
	var acked int
	if s.exitWAL != nil {
		if acked, err = s.exitWAL.DeleteAckedUpTo(snap.EventSeq); err != nil {
			s.log.Warn("outbox cleanup failed", zap.Error(err))
		}
	}

	s.log.Info("snapshot written",
		zap.String("path", path),
		zap.Uint64("seq", snap.Seq),
		zap.Int("orders", len(snap.State.Orders)),
		zap.Int("stops", len(snap.State.Stops)),
		zap.Int("segments_removed", removed),
		zap.Int("outbox_deleted", acked),
	)
	return snap, nil
}

// RunSnapshots snapshots every interval until ctx is done, and once more
// on the way out.
func (s *OrderService) RunSnapshots(ctx context.Context, w *snapshot.Writer, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := s.TakeSnapshot(w); err != nil {
				s.log.Warn("final snapshot failed", zap.Error(err))
			}
			return nil
		case <-t.C:
			if _, err := s.TakeSnapshot(w); err != nil {
				s.log.Warn("snapshot failed", zap.Error(err))
			}
		}
	}
}
