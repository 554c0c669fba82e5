package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrCorrupt = errors.New("wal: corrupt record")

type ReplayHandler func(*Record) error

// Replay feeds every record with Seq > after to fn in log order and
// returns the last sequence seen. A torn frame ends its segment: the
// writer never appends to a segment it did not create.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		lastSeq, err = replaySegment(path, after, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, after, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lastSeq, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return lastSeq, nil
			}
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%w: non-monotonic seq %d after %d", ErrCorrupt, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq
		if rec.Seq <= after {
			continue
		}

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if !CRC32Valid(append(header, payload...), crc) {
		return nil, fmt.Errorf("%w: crc mismatch at seq %d", ErrCorrupt, seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}
