package grpcserver

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"depthbook/infra/logger"
)

const requestIDHeader = "x-request-id"

// RequestID takes the caller's x-request-id or mints one, and echoes it
// back in the response header.
func RequestID(
	ctx context.Context,
	req any,
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(requestIDHeader); len(values) > 0 {
			id = values[0]
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
	return handler(logger.ContextWithRequestID(ctx, id), req)
}

// ClientRequestID forwards the request id carried by ctx.
func ClientRequestID(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get(requestIDHeader)) > 0 {
		return invoker(ctx, method, req, reply, cc, opts...)
	}
	id := logger.RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.New().String()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, requestIDHeader, id)
	return invoker(ctx, method, req, reply, cc, opts...)
}

func Logging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		method := path.Base(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		l := logger.WithContext(ctx, log).With(
			zap.String("method", method),
			zap.Duration("took", time.Since(start)),
		)
		if err != nil {
			st, _ := status.FromError(err)
			l.Warn("grpc call failed", zap.Stringer("code", st.Code()), zap.String("error", st.Message()))
		} else {
			l.Debug("grpc call")
		}
		return resp, err
	}
}

// Recovery turns handler panics into codes.Internal.
func Recovery(log *zap.Logger) grpc.UnaryServerInterceptor {
	return recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(
		func(ctx context.Context, p any) error {
			logger.WithContext(ctx, log).Error("panic recovered in grpc handler",
				zap.String("panic", fmt.Sprintf("%v", p)),
			)
			return status.Errorf(codes.Internal, "internal error")
		},
	))
}

// NewGRPCServer builds a server with the standard interceptor chain and
// registers srv on it.
func NewGRPCServer(srv OrderBookServer, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("grpc")
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RequestID,
		Logging(log),
		Recovery(log),
	))
	gs := grpc.NewServer(opts...)
	Register(gs, srv)
	return gs
}
