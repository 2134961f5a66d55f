package diceserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cory-johannsen/diceengine/internal/server"
)

// NewGRPCServer creates a grpc.Server with svc registered, every call
// logged and handler panics converted to Internal errors.
//
// Precondition: svc and logger must be non-nil.
func NewGRPCServer(svc DiceServiceServer, logger *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), RecoveryInterceptor(logger)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterDiceServiceServer(s, svc)
	return s
}

// LoggingInterceptor logs each unary call with its method, status code and
// duration. Failed calls log at Warn.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a panicking handler into a codes.Internal error
// so one bad request cannot take the server down.
func RecoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panicked",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LifecycleService adapts s to server.Service: Start listens on addr and
// serves until Stop.
func LifecycleService(s *grpc.Server, addr string, logger *zap.Logger) server.Service {
	return &server.FuncService{
		StartFn: func() error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}
			logger.Info("gRPC server listening",
				zap.String("addr", lis.Addr().String()),
			)
			return s.Serve(lis)
		},
		StopFn: func() {
			s.GracefulStop()
		},
	}
}
