package entry

import "time"

type RecordType uint8

const (
	RecordAdd RecordType = iota + 1
	RecordCancel
	RecordReplace
	RecordMarketPrice
)

func (t RecordType) String() string {
	switch t {
	case RecordAdd:
		return "ADD"
	case RecordCancel:
		return "CANCEL"
	case RecordReplace:
		return "REPLACE"
	case RecordMarketPrice:
		return "MARKET_PRICE"
	default:
		return "UNKNOWN"
	}
}

// Record is one framed WAL entry. Data is the encoded Command.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// headerSize is [type:1][seq:8][time:8][len:4].
const headerSize = 21
