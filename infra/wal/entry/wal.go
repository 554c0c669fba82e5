package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

var ErrClosed = errors.New("wal: closed")

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// SyncEveryWrite fsyncs after each append.
	SyncEveryWrite bool
}

// WAL is the command log. Appends must carry strictly increasing
// sequence numbers.
type WAL struct {
	mu sync.Mutex

	dir        string
	segSize    int64
	segDur     time.Duration
	syncWrites bool

	current    *segment
	lastSeq    uint64
	lastRotate time.Time
}

// Open resumes after the newest existing segment, or starts segment 0.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segDur:     cfg.SegmentDuration,
		syncWrites: cfg.SyncEveryWrite,
		lastRotate: time.Now(),
	}

	index := 0
	for _, path := range files {
		seq, err := maxSeqInSegment(path)
		if err != nil {
			return nil, err
		}
		w.lastSeq = max(w.lastSeq, seq)
	}
	if n := len(files); n > 0 {
		idx, err := segmentIndex(files[n-1])
		if err != nil {
			return nil, err
		}
		// never append behind a possibly torn tail
		index = idx + 1
	}

	if w.current, err = openSegment(cfg.Dir, index); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) Dir() string { return w.dir }

// LastSeq is the highest sequence durable in the log.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return ErrClosed
	}
	if r.Seq <= w.lastSeq {
		return fmt.Errorf("wal: seq %d not after %d", r.Seq, w.lastSeq)
	}

	payloadLen := uint32(len(r.Data))

	// Frame:
	// [type:1][seq:8][time:8][len:4][payload][crc:4]
	buf := make([]byte, headerSize+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)

	if err := w.current.append(buf); err != nil {
		return err
	}
	if w.syncWrites {
		if err := w.current.sync(); err != nil {
			return err
		}
	}
	w.lastSeq = r.Seq

	if w.shouldRotate() {
		return w.rotate()
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset >= w.segSize {
		return true
	}
	return w.segDur > 0 && time.Since(w.lastRotate) >= w.segDur
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()

	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		w.current = nil
		return err
	}

	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ErrClosed
	}
	return w.current.sync()
}

// TruncateBefore removes closed segments whose records all have
// Seq <= seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) (removed int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		if w.current != nil && path == w.current.file.Name() {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			return removed, err
		}
		if maxSeq > seq {
			// segments are ordered; nothing later is covered either
			break
		}
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := errors.Join(w.current.sync(), w.current.close())
	w.current = nil
	return err
}
