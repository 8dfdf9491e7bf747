package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The gRPC listener serves health checks (unary Check, streaming Watch) and
// optionally reflection. Both interceptors recover panics and log the call.
func (s *serverImpl) grpcInterceptors() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}
}

func (s *serverImpl) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(info.FullMethod, r)
		}
		s.logCall(ctx, info.FullMethod, start, err)
	}()
	return handler(ctx, req)
}

func (s *serverImpl) streamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = s.recovered(info.FullMethod, r)
		}
		s.logCall(ss.Context(), info.FullMethod, start, err)
	}()
	return handler(srv, ss)
}

func (s *serverImpl) recovered(method string, r interface{}) error {
	s.logger.Error("gRPC panic recovered", "method", method, "error", r, "stack", string(debug.Stack()))
	return status.Error(codes.Internal, "internal server error")
}

// logCall keeps health checks and client-side cancellations at debug.
func (s *serverImpl) logCall(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	level := slog.LevelDebug
	switch code {
	case codes.OK, codes.Canceled, codes.DeadlineExceeded, codes.NotFound:
	default:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "gRPC call",
		"method", method,
		"code", code.String(),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
}
