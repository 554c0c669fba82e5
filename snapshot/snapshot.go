package snapshot

import (
	"time"

	"depthbook/domain/orderbook"
)

type Snapshot struct {
	// Seq is the last entry-WAL sequence applied to State.
	Seq uint64
	// EventSeq is the last outbox sequence issued.
	EventSeq uint64
	// OrderID is the last server-assigned order id.
	OrderID uint64
	Symbol  string
	Created time.Time
	State   orderbook.State
}
