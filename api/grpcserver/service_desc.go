package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "depthbook.v1.OrderBook"

// OrderBookServer is the server API. Requests and responses are
// google.protobuf.Struct so clients need no generated stubs.
type OrderBookServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReplaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetMarketPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDepth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(OrderBookServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(OrderBookServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(OrderBookServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderBookServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceOrder", OrderBookServer.PlaceOrder),
		unary("CancelOrder", OrderBookServer.CancelOrder),
		unary("ReplaceOrder", OrderBookServer.ReplaceOrder),
		unary("SetMarketPrice", OrderBookServer.SetMarketPrice),
		unary("GetDepth", OrderBookServer.GetDepth),
		unary("GetBook", OrderBookServer.GetBook),
		unary("GetOrder", OrderBookServer.GetOrder),
		unary("GetStats", OrderBookServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "depthbook/v1/orderbook.proto",
}

func Register(s grpc.ServiceRegistrar, srv OrderBookServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client invokes OrderBook methods by name.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
