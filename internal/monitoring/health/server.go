package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/NYTimes/gziphandler"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WorkerService is the gRPC health service name of a region's worker.
func WorkerService(region string) string { return "worker." + region }

// Server provides HTTP and gRPC endpoints for health monitoring.
type Server struct {
	monitor  *Monitor
	server   *http.Server
	grpcPort int
	checker  *grpchealth.Server

	mu   sync.Mutex
	grpc *grpc.Server
}

// NewServer creates a new health server. A zero grpcPort disables gRPC.
func NewServer(monitor *Monitor, port, grpcPort int) *Server {
	s := &Server{
		monitor:  monitor,
		grpcPort: grpcPort,
		checker:  grpchealth.NewServer(),
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	monitor.OnReport(s.publish)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())
	return gziphandler.GzipHandler(mux)
}

// Start starts the HTTP server, and the gRPC server when enabled. It blocks
// until the HTTP server stops. A gRPC listen failure is logged and HTTP is
// served regardless.
func (s *Server) Start() error {
	if s.grpcPort > 0 {
		if err := s.startGRPC(); err != nil {
			slog.Error("gRPC health server disabled", "port", s.grpcPort, "error", err)
		}
	}

	slog.Info("Health server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startGRPC() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.checker)

	s.mu.Lock()
	s.grpc = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil {
			slog.Error("gRPC health server stopped", "error", err)
		}
	}()
	slog.Info("gRPC health server listening", "port", s.grpcPort)
	return nil
}

// Stop stops both servers.
func (s *Server) Stop(ctx context.Context) error {
	s.checker.Shutdown()
	s.mu.Lock()
	srv := s.grpc
	s.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	return s.server.Shutdown(ctx)
}

// Checker exposes the gRPC health service.
func (s *Server) Checker() healthpb.HealthServer { return s.checker }

// publish mirrors a report onto the gRPC health service.
func (s *Server) publish(report *HealthReport) {
	s.checker.SetServingStatus("", servingStatus(report.SystemStatus))
	for region, w := range report.Workers {
		s.checker.SetServingStatus(WorkerService(region), servingStatus(w.Status))
	}
}

func servingStatus(st SystemStatus) healthpb.HealthCheckResponse_ServingStatus {
	if st == StatusCritical {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	w.Header().Set("Content-Type", "application/json")

	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).EncodeContext(r.Context(), response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.EncodeContext(r.Context(), report)
}
