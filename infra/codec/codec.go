// Package codec encodes book events for the outbox and the API. Events
// travel as google.protobuf.Struct so consumers need no generated types.
package codec

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"depthbook/domain/orderbook"
)

type Format uint8

const (
	Proto Format = iota
	JSON
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "proto", "protobuf":
		return Proto, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("codec: unknown format %q", s)
	}
}

// Envelope is one published event.
type Envelope struct {
	Seq    uint64
	Symbol string
	Time   int64
	Event  orderbook.Event
}

// Key partitions events by order so one order's events stay ordered.
func (e Envelope) Key() []byte {
	if e.Event.OrderID == 0 {
		return []byte(e.Symbol)
	}
	return strconv.AppendUint(nil, e.Event.OrderID, 10)
}

func EventStruct(e orderbook.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type": structpb.NewStringValue(e.Type.String()),
	}
	if e.OrderID != 0 {
		fields["order_id"] = structpb.NewStringValue(strconv.FormatUint(e.OrderID, 10))
	}
	if e.CounterID != 0 {
		fields["counter_id"] = structpb.NewStringValue(strconv.FormatUint(e.CounterID, 10))
	}
	if e.Side != 0 {
		fields["side"] = structpb.NewStringValue(e.Side.String())
	}
	if e.Price != 0 {
		fields["price"] = structpb.NewNumberValue(float64(e.Price))
	}
	if e.Quantity != 0 {
		fields["quantity"] = structpb.NewNumberValue(float64(e.Quantity))
	}
	if e.Remaining != 0 {
		fields["remaining"] = structpb.NewNumberValue(float64(e.Remaining))
	}
	if e.Status != orderbook.Unsubmitted {
		fields["status"] = structpb.NewStringValue(e.Status.String())
	}
	if e.Reason != "" {
		fields["reason"] = structpb.NewStringValue(e.Reason)
	}
	if e.Depth != nil {
		fields["depth"] = structpb.NewStructValue(DepthStruct(*e.Depth))
	}
	return &structpb.Struct{Fields: fields}
}

func DepthStruct(d orderbook.DepthSnapshot) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bids": structpb.NewListValue(levelList(d.Bids)),
		"asks": structpb.NewListValue(levelList(d.Asks)),
	}}
}

func levelList(levels []orderbook.DepthLevel) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(levels))}
	for _, l := range levels {
		if !l.Valid {
			break
		}
		out.Values = append(out.Values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"price":    structpb.NewNumberValue(float64(l.Price)),
			"quantity": structpb.NewNumberValue(float64(l.Quantity)),
			"orders":   structpb.NewNumberValue(float64(l.Orders)),
		}}))
	}
	return out
}

func envelopeStruct(env Envelope) *structpb.Struct {
	s := EventStruct(env.Event)
	s.Fields["seq"] = structpb.NewStringValue(strconv.FormatUint(env.Seq, 10))
	s.Fields["symbol"] = structpb.NewStringValue(env.Symbol)
	if env.Time != 0 {
		s.Fields["time"] = structpb.NewStringValue(strconv.FormatInt(env.Time, 10))
	}
	return s
}

func Encode(f Format, env Envelope) ([]byte, error) {
	s := envelopeStruct(env)
	switch f {
	case JSON:
		return protojson.Marshal(s)
	default:
		return proto.MarshalOptions{Deterministic: true}.Marshal(s)
	}
}

// Decode returns the generic form of an encoded envelope.
func Decode(f Format, b []byte) (map[string]any, error) {
	s := &structpb.Struct{}
	var err error
	switch f {
	case JSON:
		err = protojson.Unmarshal(b, s)
	default:
		err = proto.Unmarshal(b, s)
	}
	if err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}
