package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowmedic/flowmedic/pkg/client"
	"github.com/flowmedic/flowmedic/pkg/metrics"
)

// HealthServer exposes liveness, readiness and metrics endpoints for the
// monitor process.
type HealthServer struct {
	orchestrator client.API
	version      string
	logger       zerolog.Logger
	mux          *http.ServeMux
}

// NewHealthServer creates the endpoint set. The orchestrator client backs
// the readiness check; liveness never touches it.
func NewHealthServer(orchestrator client.API, version string, logger zerolog.Logger) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		orchestrator: orchestrator,
		version:      version,
		logger:       logger,
		mux:          mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves the endpoints, blocking until the listener fails.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	hs.logger.Info().Str("addr", addr).Msg("health and metrics endpoints listening")
	return server.ListenAndServe()
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the readiness payload.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler answers liveness: 200 whenever the process is up.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	})
}

// readyHandler answers readiness: 200 only when the orchestrator API is
// reachable with the configured token.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := map[string]string{"orchestrator": "ok"}
	status := http.StatusOK
	state := "ready"

	if err := hs.orchestrator.CheckConnection(ctx); err != nil {
		checks["orchestrator"] = err.Error()
		status = http.StatusServiceUnavailable
		state = "not ready"
	}

	writeJSON(w, status, ReadyResponse{
		Status:    state,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
