package entry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	flagAllOrNone uint8 = 1 << iota
	flagImmediateOrCancel
	flagHasPrice
	flagHasQuantity
)

var ErrBadPayload = errors.New("wal: malformed command payload")

// Command is the replayable input of one book command. Only the fields
// relevant to Type are meaningful; HasPrice and HasQuantity mark the
// terms a replace changes.
type Command struct {
	Type              RecordType
	OrderID           uint64
	Side              uint8
	Price             int64
	Quantity          int64
	StopPrice         int64
	AllOrNone         bool
	ImmediateOrCancel bool
	HasPrice          bool
	HasQuantity       bool
}

// commandSize is [id:8][side:1][flags:1][price:8][qty:8][stop:8].
const commandSize = 34

func (c Command) Encode() []byte {
	buf := make([]byte, commandSize)
	binary.BigEndian.PutUint64(buf[0:8], c.OrderID)
	buf[8] = c.Side
	var flags uint8
	if c.AllOrNone {
		flags |= flagAllOrNone
	}
	if c.ImmediateOrCancel {
		flags |= flagImmediateOrCancel
	}
	if c.HasPrice {
		flags |= flagHasPrice
	}
	if c.HasQuantity {
		flags |= flagHasQuantity
	}
	buf[9] = flags
	binary.BigEndian.PutUint64(buf[10:18], uint64(c.Price))
	binary.BigEndian.PutUint64(buf[18:26], uint64(c.Quantity))
	binary.BigEndian.PutUint64(buf[26:34], uint64(c.StopPrice))
	return buf
}

// Record frames the command under seq.
func (c Command) Record(seq uint64) *Record {
	return NewRecord(c.Type, seq, c.Encode())
}

func DecodeCommand(r *Record) (Command, error) {
	b := r.Data
	if len(b) != commandSize {
		return Command{}, fmt.Errorf("%w: seq %d has %d bytes", ErrBadPayload, r.Seq, len(b))
	}
	flags := b[9]
	return Command{
		Type:              r.Type,
		OrderID:           binary.BigEndian.Uint64(b[0:8]),
		Side:              b[8],
		Price:             int64(binary.BigEndian.Uint64(b[10:18])),
		Quantity:          int64(binary.BigEndian.Uint64(b[18:26])),
		StopPrice:         int64(binary.BigEndian.Uint64(b[26:34])),
		AllOrNone:         flags&flagAllOrNone != 0,
		ImmediateOrCancel: flags&flagImmediateOrCancel != 0,
		HasPrice:          flags&flagHasPrice != 0,
		HasQuantity:       flags&flagHasQuantity != 0,
	}, nil
}
