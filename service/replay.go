package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	entrywal "depthbook/infra/wal/entry"
	"depthbook/snapshot"
)

/*
Recover rebuilds in-memory state before the service accepts traffic:

  - load the newest snapshot, if any
  - replay entry-WAL commands logged after it
  - resume every sequencer past what was replayed

Events regenerated by replay are written to the outbox only when the
outbox has not already stored them.
*/
func (s *OrderService) Recover(ctx context.Context, snapshotDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from uint64
	snap, err := snapshot.LoadLatest(snapshotDir)
	if err != nil {
		return err
	}
	if snap != nil {
		if snap.Symbol != "" && s.symbol != "" && snap.Symbol != s.symbol {
			return fmt.Errorf("snapshot is for %s, engine serves %s", snap.Symbol, s.symbol)
		}
		if err := s.book.Restore(snap.State); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		from = snap.Seq
		s.cmdSeq.Observe(snap.Seq)
		s.eventSeq.Observe(snap.EventSeq)
		s.orderIDs.Observe(snap.OrderID)
	}

	if s.exitWAL != nil {
		last, err := s.exitWAL.LastSeq()
		if err != nil {
			return err
		}
		s.outboxFloor = last
	}

	s.replaying = true
	defer func() { s.replaying = false }()

	replayed := 0
	lastSeq, err := entrywal.Replay(s.entryWAL.Dir(), from, func(rec *entrywal.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := entrywal.DecodeCommand(rec)
		if err != nil {
			return err
		}
		if cmd.Type == entrywal.RecordAdd {
			s.orderIDs.Observe(cmd.OrderID)
		}
		s.cmdSeq.Observe(rec.Seq)
		// book rejections are part of the log and replay the same way
		_, _ = s.apply(cmd)
		s.flush()
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}
	s.cmdSeq.Observe(lastSeq)
	s.cmdSeq.Observe(s.entryWAL.LastSeq())

	if err := s.book.CheckInvariants(); err != nil {
		return fmt.Errorf("recovered book is inconsistent: %w", err)
	}

	s.log.Info("recovery completed",
		zap.Uint64("snapshot_seq", from),
		zap.Int("replayed", replayed),
		zap.Uint64("last_seq", s.cmdSeq.Current()),
		zap.Uint64("event_seq", s.eventSeq.Current()),
		zap.Int("live_orders", s.book.Len()),
	)
	return nil
}
