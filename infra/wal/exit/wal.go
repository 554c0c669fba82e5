package exit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// ExitRecord is one outbound event and its delivery state.
type ExitRecord struct {
	Seq         uint64
	State       ExitState
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

var ErrBadRecord = errors.New("outbox: invalid record")

// binary encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
func encodeRecord(r ExitRecord) []byte {
	buf := make([]byte, 15+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	n := copy(buf[15:], r.Key)
	copy(buf[15+n:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (ExitRecord, error) {
	if len(b) < 15 {
		return ExitRecord{}, fmt.Errorf("%w: %d bytes", ErrBadRecord, len(b))
	}
	keyLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < 15+keyLen {
		return ExitRecord{}, fmt.Errorf("%w: key overruns value", ErrBadRecord)
	}
	// pebble owns b; copy out
	rest := append([]byte(nil), b[15:]...)
	return ExitRecord{
		Seq:         seq,
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         rest[:keyLen:keyLen],
		Payload:     rest[keyLen:],
	}, nil
}

// -------------------- WAL --------------------

// ExitWAL is the durable event outbox, keyed by event sequence.
type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// Message is an event ready for the outbox.
type Message struct {
	Seq     uint64
	Key     []byte
	Payload []byte
}

// PutNew inserts one command's events atomically.
func (w *ExitWAL) PutNew(msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	b := w.db.NewBatch()
	defer b.Close()
	for _, m := range msgs {
		rec := ExitRecord{State: StateNew, Key: m.Key, Payload: m.Payload}
		if err := b.Set(keyFor(m.Seq), encodeRecord(rec), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// UpdateState updates state after send / ack / failure.
func (w *ExitWAL) UpdateState(seq uint64, state ExitState, retries uint32) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return w.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

func (w *ExitWAL) MarkSent(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	return w.UpdateState(seq, StateSent, rec.Retries)
}

func (w *ExitWAL) MarkAcked(seq uint64) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	return w.UpdateState(seq, StateAcked, rec.Retries)
}

func (w *ExitWAL) MarkFailed(seq uint64, retries uint32) error {
	return w.UpdateState(seq, StateFailed, retries)
}

// Delete removes ACKED records (cleanup).
func (w *ExitWAL) Delete(seq uint64) error {
	return w.db.Delete(keyFor(seq), pebble.Sync)
}

// Get returns the current record for an event; pebble.ErrNotFound when
// absent.
func (w *ExitWAL) Get(seq uint64) (ExitRecord, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if err != nil {
		return ExitRecord{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// LastSeq is the highest sequence stored, 0 when empty.
func (w *ExitWAL) LastSeq() (uint64, error) {
	iter, err := w.db.NewIter(&pebble.IterOptions{LowerBound: []byte(keyPrefix), UpperBound: []byte(keyUpper)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// -------------------- Scan --------------------

// Scan iterates records in sequence order while fn returns nil. A nil
// filter visits every record.
func (w *ExitWAL) Scan(filter func(ExitState) bool, fn func(rec ExitRecord) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) == 0 {
			return fmt.Errorf("%w: empty value at seq %d", ErrBadRecord, seq)
		}
		if filter != nil && !filter(ExitState(val[0])) {
			continue
		}
		rec, err := decodeRecord(seq, val)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ScanByState iterates all records in the given state.
func (w *ExitWAL) ScanByState(state ExitState, fn func(rec ExitRecord) error) error {
	return w.Scan(func(s ExitState) bool { return s == state }, fn)
}

// DeleteAckedUpTo removes ACKED records with Seq <= upTo and reports how
// many it removed.
func (w *ExitWAL) DeleteAckedUpTo(upTo uint64) (int, error) {
	var seqs []uint64
	err := w.ScanByState(StateAcked, func(rec ExitRecord) error {
		if rec.Seq > upTo {
			return errStop
		}
		seqs = append(seqs, rec.Seq)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	b := w.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return 0, err
		}
	}
	return len(seqs), b.Commit(pebble.Sync)
}

var errStop = errors.New("stop")

// -------------------- Helpers --------------------

const (
	keyPrefix = "event/"
	keyUpper  = "event/~"
)

func keyFor(seq uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", keyPrefix, seq)
}

func parseKey(b []byte) (uint64, error) {
	if len(b) <= len(keyPrefix) {
		return 0, fmt.Errorf("%w: key %q", ErrBadRecord, b)
	}
	return strconv.ParseUint(string(b[len(keyPrefix):]), 10, 64)
}
