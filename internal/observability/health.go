package observability

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth   *health.Server
	httpServer   *http.Server
	logger       *zap.Logger
	mu           sync.RWMutex
	ready        bool
	gatewayReady bool
	usesGateway  bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		grpcHealth: health.NewServer(),
		logger:     logger,
		ready:      true,
	}
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.updateServingStatus()
}

// Handler returns the HTTP handler serving /healthz
func (h *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	return mux
}

// StartHTTPServer starts the HTTP health check server
func (h *HealthChecker) StartHTTPServer(addr string) error {
	h.mu.Lock()
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.Handler(),
	}
	srv := h.httpServer
	h.mu.Unlock()

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	srv := h.httpServer
	h.mu.Unlock()
	h.grpcHealth.Shutdown()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// SetGatewayReady records whether the matching gateway connection is up.
// Once called, readiness requires the gateway.
func (h *HealthChecker) SetGatewayReady(ready bool) {
	h.mu.Lock()
	h.gatewayReady = ready
	h.usesGateway = true
	h.mu.Unlock()
	h.updateServingStatus()
}

// Ready reports the combined readiness
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready && (!h.usesGateway || h.gatewayReady)
}

func (h *HealthChecker) updateServingStatus() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if h.Ready() {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus("", status)
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.Ready() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
	}
}
