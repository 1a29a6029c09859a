package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server hosts the Executive gRPC service.
type Server struct {
	grpcServer *grpc.Server
	service    *Service
	addr       string
	logger     *zap.Logger

	grpcLis net.Listener
}

// NewServer creates a gRPC server. A positive timeout bounds every request.
func NewServer(addr string, timeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
			TimeoutUnaryInterceptor(timeout),
		),
	)

	return &Server{
		grpcServer: grpcServer,
		addr:       addr,
		logger:     logger,
	}
}

// RegisterService registers the Executive service implementation.
func (s *Server) RegisterService(svc *Service) {
	s.service = svc
	s.grpcServer.RegisterService(&ExecutiveServiceDesc, svc)
}

// Start begins serving gRPC requests.
func (s *Server) Start(ctx context.Context) error {
	var err error
	s.grpcLis, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.addr, err)
	}

	s.logger.Info("gRPC server starting",
		zap.String("addr", s.grpcLis.Addr().String()),
	)

	go func() {
		if err := s.grpcServer.Serve(s.grpcLis); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	return nil
}

// Name returns the service name.
func (s *Server) Name() string {
	return "rpc"
}

// GRPCServer returns the underlying gRPC server (for testing).
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// GRPCAddr returns the actual address the gRPC server is listening on.
// Useful when configured with port 0 for tests.
func (s *Server) GRPCAddr() string {
	if s.grpcLis != nil {
		return s.grpcLis.Addr().String()
	}
	return s.addr
}
