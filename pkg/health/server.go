package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
)

// CheckStatus represents the status of a single health check.
type CheckStatus string

const (
	CheckOK    CheckStatus = "ok"
	CheckError CheckStatus = "error"
)

// Built-in readiness checks
const (
	CheckConfig = "config"
	CheckWatch  = "watch"
)

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReadyResponse is the JSON body of /readyz.
type ReadyResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Checks  map[string]CheckStatus `json:"checks,omitempty"`
	Failing []string               `json:"failing,omitempty"`
}

// Server provides HTTP liveness and readiness endpoints.
type Server struct {
	server    *http.Server
	log       logger.Logger
	port      string
	component string

	// shuttingDown makes /readyz return 503 regardless of checks
	shuttingDown atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckStatus
}

// NewServer creates a health server. The config and watch checks start in error.
func NewServer(log logger.Logger, port string, component string) *Server {
	s := &Server{
		log:       log,
		port:      port,
		component: component,
		checks: map[string]CheckStatus{
			CheckConfig: CheckError,
			CheckWatch:  CheckError,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)

	s.server = &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start serves in a goroutine and returns immediately.
func (s *Server) Start(ctx context.Context) error {
	s.log.Infof(ctx, "Starting health server on port %s", s.port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(logger.WithErrorField(ctx, err), "Health server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "Shutting down health server...")
	return s.server.Shutdown(ctx)
}

// SetCheck sets the status of a named check, registering it if new.
func (s *Server) SetCheck(name string, status CheckStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = status
}

// SetWatchReady marks the watch check.
func (s *Server) SetWatchReady(ready bool) {
	if ready {
		s.SetCheck(CheckWatch, CheckOK)
	} else {
		s.SetCheck(CheckWatch, CheckError)
	}
}

// SetConfigLoaded marks the config check as ok.
func (s *Server) SetConfigLoaded() {
	s.SetCheck(CheckConfig, CheckOK)
}

// SetShuttingDown flips /readyz to 503 immediately.
func (s *Server) SetShuttingDown(shuttingDown bool) {
	s.shuttingDown.Store(shuttingDown)
}

func (s *Server) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// IsReady returns true if every check passes and the server is not shutting down.
func (s *Server) IsReady() bool {
	if s.shuttingDown.Load() {
		return false
	}
	checks, failing := s.snapshot()
	return len(checks) > 0 && len(failing) == 0
}

func (s *Server) snapshot() (map[string]CheckStatus, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checks := make(map[string]CheckStatus, len(s.checks))
	var failing []string
	for name, status := range s.checks {
		checks[name] = status
		if status != CheckOK {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return checks, failing
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "error",
			Message: "server is shutting down",
		})
		return
	}

	checks, failing := s.snapshot()
	if len(failing) == 0 {
		writeJSON(w, http.StatusOK, ReadyResponse{Status: "ok", Checks: checks})
		return
	}

	writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
		Status:  "error",
		Message: "not ready",
		Checks:  checks,
		Failing: failing,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
