// Package grpcserver exposes the order service over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"depthbook/domain/orderbook"
	"depthbook/pkg/ticks"
	"depthbook/service"
)

// Engine is the part of service.OrderService the API drives.
type Engine interface {
	Add(ctx context.Context, r orderbook.Request) (service.AddResult, error)
	Cancel(ctx context.Context, id uint64) error
	Replace(ctx context.Context, r service.ReplaceRequest) (bool, error)
	SetMarketPrice(ctx context.Context, price int64) error
	Depth(n int) orderbook.DepthSnapshot
	MaxDepthLevels() int
	Book() orderbook.BookSnapshot
	Order(id uint64) (orderbook.Order, bool)
	Stats() service.Stats
}

// Server adapts Engine to OrderBookServer. Prices cross the wire as
// decimal strings and are converted to ticks with scale.
type Server struct {
	svc   Engine
	scale ticks.Scale
}

func NewServer(svc Engine, scale ticks.Scale) *Server {
	return &Server{svc: svc, scale: scale}
}

var _ OrderBookServer = (*Server)(nil)

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields(in)
	req := orderbook.Request{}
	var err error
	if req.ID, err = f.optionalID("order_id"); err != nil {
		return nil, err
	}
	if req.Side, err = f.side("side"); err != nil {
		return nil, err
	}
	if req.Price, err = f.price(s.scale, "price"); err != nil {
		return nil, err
	}
	if req.StopPrice, err = f.price(s.scale, "stop_price"); err != nil {
		return nil, err
	}
	if req.Quantity, err = f.integer("quantity"); err != nil {
		return nil, err
	}
	req.AllOrNone = f.flag("all_or_none")
	req.ImmediateOrCancel = f.flag("immediate_or_cancel")

	res, err := s.svc.Add(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"order_id": idValue(res.OrderID),
		"matched":  structpb.NewBoolValue(res.Matched),
	}}, nil
}

func (s *Server) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := fields(in).id("order_id")
	if err != nil {
		return nil, err
	}
	if err := s.svc.Cancel(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"order_id":  idValue(id),
		"cancelled": structpb.NewBoolValue(true),
	}}, nil
}

func (s *Server) ReplaceOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := fields(in)
	id, err := f.id("order_id")
	if err != nil {
		return nil, err
	}
	req := service.ReplaceRequest{ID: id}
	if f.has("price") {
		p, err := f.price(s.scale, "price")
		if err != nil {
			return nil, err
		}
		req.Price = &p
	}
	if f.has("quantity") {
		q, err := f.integer("quantity")
		if err != nil {
			return nil, err
		}
		req.Quantity = &q
	}
	matched, err := s.svc.Replace(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"order_id": idValue(id),
		"matched":  structpb.NewBoolValue(matched),
	}}, nil
}

func (s *Server) SetMarketPrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	price, err := fields(in).price(s.scale, "price")
	if err != nil {
		return nil, err
	}
	if err := s.svc.SetMarketPrice(ctx, price); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"market_price": structpb.NewStringValue(s.scale.Format(price)),
	}}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetDepth(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	n, err := fields(in).optionalInteger("levels")
	if err != nil {
		return nil, err
	}
	if limit := s.svc.MaxDepthLevels(); n < 0 || n > int64(limit) {
		return nil, status.Errorf(codes.InvalidArgument, "levels must be between 0 and %d", limit)
	}
	d := s.svc.Depth(int(n))
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bids": s.depthLevels(d.Bids),
		"asks": s.depthLevels(d.Asks),
	}}, nil
}

func (s *Server) GetBook(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	b := s.svc.Book()
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bids": s.bookLevels(b.Bids),
		"asks": s.bookLevels(b.Asks),
	}}, nil
}

func (s *Server) GetOrder(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := fields(in).id("order_id")
	if err != nil {
		return nil, err
	}
	o, ok := s.svc.Order(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "order %d not found", id)
	}
	out := map[string]*structpb.Value{
		"order_id":            idValue(o.ID),
		"side":                structpb.NewStringValue(o.Side.String()),
		"type":                structpb.NewStringValue(o.Type.String()),
		"price":               structpb.NewStringValue(s.scale.Format(o.Price)),
		"quantity":            structpb.NewNumberValue(float64(o.Qty)),
		"filled":              structpb.NewNumberValue(float64(o.Filled)),
		"remaining":           structpb.NewNumberValue(float64(o.Remaining())),
		"status":              structpb.NewStringValue(o.Status.String()),
		"all_or_none":         structpb.NewBoolValue(o.AllOrNone),
		"immediate_or_cancel": structpb.NewBoolValue(o.ImmediateOrCancel),
	}
	if o.StopPrice != 0 {
		out["stop_price"] = structpb.NewStringValue(s.scale.Format(o.StopPrice))
	}
	return &structpb.Struct{Fields: out}, nil
}

func (s *Server) GetStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.svc.Stats()
	out := map[string]*structpb.Value{
		"symbol":        structpb.NewStringValue(st.Symbol),
		"live_orders":   structpb.NewNumberValue(float64(st.LiveOrders)),
		"pending_stops": structpb.NewNumberValue(float64(st.PendingStops)),
		"bid_levels":    structpb.NewNumberValue(float64(st.BidLevels)),
		"ask_levels":    structpb.NewNumberValue(float64(st.AskLevels)),
		"last_seq":      idValue(st.LastSeq),
	}
	if st.MarketSet {
		out["market_price"] = structpb.NewStringValue(s.scale.Format(st.MarketPrice))
	}
	return &structpb.Struct{Fields: out}, nil
}

// -------------------- converters --------------------

func (s *Server) depthLevels(levels []orderbook.DepthLevel) *structpb.Value {
	out := make([]*structpb.Value, 0, len(levels))
	for _, l := range levels {
		if !l.Valid {
			break
		}
		out = append(out, s.level(l.Price, l.Quantity, l.Orders))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

func (s *Server) bookLevels(levels []orderbook.LevelView) *structpb.Value {
	out := make([]*structpb.Value, 0, len(levels))
	for _, l := range levels {
		out = append(out, s.level(l.Price, l.Quantity, l.Orders))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: out})
}

func (s *Server) level(price, qty int64, orders int) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"price":    structpb.NewStringValue(s.scale.Format(price)),
		"quantity": structpb.NewNumberValue(float64(qty)),
		"orders":   structpb.NewNumberValue(float64(orders)),
	}})
}

func idValue(id uint64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatUint(id, 10))
}

type fieldSet map[string]*structpb.Value

func fields(in *structpb.Struct) fieldSet {
	if in == nil {
		return nil
	}
	return in.GetFields()
}

func (f fieldSet) has(key string) bool {
	v, ok := f[key]
	if !ok {
		return false
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return !null
}

func (f fieldSet) text(key string) (string, bool) {
	if !f.has(key) {
		return "", false
	}
	switch k := f[key].GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, true
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64), true
	default:
		return "", true
	}
}

func (f fieldSet) id(key string) (uint64, error) {
	v, ok := f.text(key)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, status.Errorf(codes.InvalidArgument, "%s: invalid id %q", key, v)
	}
	return id, nil
}

func (f fieldSet) optionalID(key string) (uint64, error) {
	if !f.has(key) {
		return 0, nil
	}
	return f.id(key)
}

func (f fieldSet) side(key string) (orderbook.Side, error) {
	v, _ := f.text(key)
	switch strings.ToUpper(v) {
	case "BID", "BUY":
		return orderbook.Bid, nil
	case "ASK", "SELL":
		return orderbook.Ask, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s: unknown side %q", key, v)
	}
}

// price reads a decimal string; absent means zero.
func (f fieldSet) price(scale ticks.Scale, key string) (int64, error) {
	v, ok := f.text(key)
	if !ok {
		return 0, nil
	}
	p, err := scale.Parse(v)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
	}
	return p, nil
}

func (f fieldSet) integer(key string) (int64, error) {
	if !f.has(key) {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	switch k := f[key].GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, status.Errorf(codes.InvalidArgument, "%s: %v is not an integer", key, n)
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
		}
		return n, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
}

func (f fieldSet) optionalInteger(key string) (int64, error) {
	if !f.has(key) {
		return 0, nil
	}
	return f.integer(key)
}

func (f fieldSet) flag(key string) bool {
	return f.has(key) && f[key].GetBoolValue()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, orderbook.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, orderbook.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrHalted):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, fmt.Sprintf("%v", err))
	}
}
