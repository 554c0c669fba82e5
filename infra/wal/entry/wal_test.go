package entry

import (
	"os"
	"path/filepath"
	"testing"
)

func appendN(t *testing.T, w *WAL, from, to uint64) {
	t.Helper()
	for seq := from; seq <= to; seq++ {
		cmd := Command{Type: RecordAdd, OrderID: seq, Side: 1, Price: int64(100 + seq), Quantity: 5, AllOrNone: seq%2 == 0}
		if err := w.Append(cmd.Record(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
}

func TestWAL_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 1 << 20})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	const n = 100
	appendN(t, w, 1, n)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := 0
	last, err := Replay(dir, 0, func(rec *Record) error {
		count++
		cmd, err := DecodeCommand(rec)
		if err != nil {
			return err
		}
		if cmd.Type != RecordAdd || cmd.OrderID != rec.Seq || cmd.Price != int64(100+rec.Seq) {
			t.Fatalf("unexpected command %+v at seq %d", cmd, rec.Seq)
		}
		if cmd.AllOrNone != (rec.Seq%2 == 0) {
			t.Fatalf("flags lost at seq %d", rec.Seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != n || last != n {
		t.Fatalf("expected %d records, got %d (last %d)", n, count, last)
	}
}

func TestWAL_ReplaySkipsCoveredRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, w, 1, 10)
	_ = w.Close()

	var seen []uint64
	if _, err := Replay(dir, 7, func(rec *Record) error {
		seen = append(seen, rec.Seq)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != 8 {
		t.Fatalf("expected seqs 8..10, got %v", seen)
	}
}

func TestWAL_RotationAndReopen(t *testing.T) {
	dir := t.TempDir()

	// every frame is larger than the segment size, so each append rotates
	w, err := Open(Config{Dir: dir, SegmentSize: 10})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	appendN(t, w, 1, 3)
	_ = w.Close()

	w, err = Open(Config{Dir: dir, SegmentSize: 10})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if w.LastSeq() != 3 {
		t.Fatalf("expected last seq 3 after reopen, got %d", w.LastSeq())
	}
	if err := w.Append(Command{Type: RecordCancel, OrderID: 1}.Record(3)); err == nil {
		t.Fatal("expected error appending a stale seq")
	}
	appendN(t, w, 4, 5)
	_ = w.Close()

	last, err := Replay(dir, 0, func(*Record) error { return nil })
	if err != nil || last != 5 {
		t.Fatalf("replay after reopen: last=%d err=%v", last, err)
	}
}

func TestWAL_TruncateBefore(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir, SegmentSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	appendN(t, w, 1, 4)

	removed, err := w.TruncateBefore(2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 segments removed, got %d", removed)
	}

	var first uint64
	if _, err := Replay(dir, 0, func(rec *Record) error {
		if first == 0 {
			first = rec.Seq
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if first != 3 {
		t.Fatalf("expected replay to start at 3, got %d", first)
	}
}

func TestWAL_TornTailIgnored(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, w, 1, 2)
	_ = w.Close()

	path := segmentPath(dir, 0)
	st, _ := os.Stat(path)
	if err := os.Truncate(path, st.Size()-3); err != nil {
		t.Fatal(err)
	}

	last, err := Replay(dir, 0, func(*Record) error { return nil })
	if err != nil || last != 1 {
		t.Fatalf("expected torn record dropped: last=%d err=%v", last, err)
	}
}

func TestWAL_CorruptRecordRejected(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	appendN(t, w, 1, 1)
	_ = w.Close()

	path := filepath.Join(dir, "segment-000000.wal")
	data, _ := os.ReadFile(path)
	data[headerSize] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Replay(dir, 0, func(*Record) error { return nil }); err == nil {
		t.Fatal("expected crc error")
	}
}
