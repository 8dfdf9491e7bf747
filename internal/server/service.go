package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the network layer: one HTTP listener and one gRPC listener.
type Service interface {
	// Start runs both listeners and blocks until one fails or ctx is canceled.
	Start(ctx context.Context) error

	// Stop shuts both listeners down, forcing gRPC closed when ctx expires.
	Stop(ctx context.Context) error

	// RegisterHTTPHandler must be called before Start.
	RegisterHTTPHandler(pattern string, handler http.Handler)

	// RegisterGRPCService must be called before Start.
	RegisterGRPCService(desc *grpc.ServiceDesc, impl interface{})

	// SetServing flips the gRPC health status of the named service.
	// The empty name is the overall server status.
	SetServing(service string, serving bool)

	HTTPMux() *http.ServeMux
}

type serverImpl struct {
	cfg    Config
	logger *slog.Logger

	httpMux    *http.ServeMux
	httpServer *http.Server

	grpcServer *grpc.Server
	health     *health.Server

	mu      sync.Mutex
	started bool
}

// New creates a Service with the gRPC health service already registered.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &serverImpl{
		cfg:     cfg,
		logger:  logger,
		httpMux: http.NewServeMux(),
		health:  health.NewServer(),
	}

	opts := s.grpcInterceptors()
	if cfg.GRPCMaxConcurrent > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.GRPCMaxConcurrent)))
	}
	s.grpcServer = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	if cfg.EnableReflection {
		reflection.Register(s.grpcServer)
	}

	s.httpMux.HandleFunc("GET /health", s.handleHealth)

	return s
}

func (s *serverImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort),
		Handler:      s.wrapMiddleware(s.httpMux),
		ReadTimeout:  s.cfg.HTTPReadTimeout,
		WriteTimeout: s.cfg.HTTPWriteTimeout,
		IdleTimeout:  s.cfg.HTTPIdleTimeout,
	}
	s.mu.Unlock()

	errChan := make(chan error, 2)
	go s.runHTTPServer(errChan)
	go s.runGRPCServer(errChan)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *serverImpl) runHTTPServer(errChan chan<- error) {
	s.logger.Info("Starting HTTP server", "host", s.cfg.Host, "port", s.cfg.HTTPPort)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("http server error: %w", err)
	}
}

func (s *serverImpl) runGRPCServer(errChan chan<- error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.GRPCPort))
	if err != nil {
		errChan <- fmt.Errorf("grpc listen error: %w", err)
		return
	}
	s.logger.Info("Starting gRPC server", "host", s.cfg.Host, "port", s.cfg.GRPCPort)
	if err := s.grpcServer.Serve(lis); err != nil {
		errChan <- fmt.Errorf("grpc server error: %w", err)
	}
}

func (s *serverImpl) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()

	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("Stopping HTTP server")
			if err := s.httpServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("http shutdown error: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("Stopping gRPC server")
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Context deadline exceeded, forcing gRPC stop")
			s.grpcServer.Stop()
		}
	}()

	wg.Wait()
	close(errChan)
	return <-errChan
}

func (s *serverImpl) RegisterHTTPHandler(pattern string, handler http.Handler) {
	s.httpMux.Handle(pattern, handler)
}

func (s *serverImpl) RegisterGRPCService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

func (s *serverImpl) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

func (s *serverImpl) HTTPMux() *http.ServeMux {
	return s.httpMux
}

// handleHealth mirrors the overall gRPC health status over HTTP.
func (s *serverImpl) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		writeError(w, http.StatusServiceUnavailable, "NOT_SERVING", "Service is not serving")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"SERVING"}`))
}
