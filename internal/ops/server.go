// Package ops exposes the operator-facing HTTP surface of the sync service:
// a health endpoint probing the critical dependencies and a stats endpoint
// reporting queue depths. Nothing here is served to end users.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sigsync/internal/queue"
	"sigsync/internal/types"
)

// healthCheckTimeout bounds the combined runtime of all health probes.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one critical-dependency check.
type HealthProbe interface {
	// Name identifies the probe in the health response ("database", "queue").
	Name() string
	// Check must respect the context deadline.
	Check(ctx context.Context) error
}

// StatsSource reports per-status job counts for one queue.
type StatsSource interface {
	Depth(ctx context.Context, queueName string) (map[queue.JobStatus]int64, error)
}

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	probes     []HealthProbe
	stats      StatsSource
	logger     *slog.Logger
}

// NewServer builds the ops server on the given port.
func NewServer(port string, probes []HealthProbe, stats StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{probes: probes, stats: stats, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// handleHealth runs every probe concurrently under one short deadline.
// 200 when all probes pass, 503 when any fails or times out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.probes) == 0 {
		s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.probes))
	for _, probe := range s.probes {
		go func(p HealthProbe) {
			err := func() (err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				return p.Check(ctx)
			}()
			results <- result{name: p.Name(), err: err}
		}(probe)
	}

	components := make(map[string]componentStatus, len(s.probes))
	healthy := true
	for range s.probes {
		select {
		case res := <-results:
			if res.err != nil {
				healthy = false
				components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			} else {
				components[res.name] = componentStatus{Status: "healthy"}
			}
		case <-ctx.Done():
			// Anything still outstanding is counted as down.
			for _, p := range s.probes {
				if _, ok := components[p.Name()]; !ok {
					components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
				}
			}
			s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Components: components})
			return
		}
	}

	resp := healthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

type queueStats struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Failed  int64 `json:"failed"`
}

type statsResponse struct {
	Queues map[string]queueStats `json:"queues"`
}

// handleStats reports job counts for both pipeline queues.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Queues: make(map[string]queueStats, 2)}
	for _, name := range []string{types.QueueDiscovery, types.QueueOpenIncidents} {
		depths, err := s.stats.Depth(r.Context(), name)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to read queue depth", "queue", name, "error", err)
			http.Error(w, "failed to read queue stats", http.StatusInternalServerError)
			return
		}
		resp.Queues[name] = queueStats{
			Pending: depths[queue.StatusPending],
			Running: depths[queue.StatusRunning],
			Failed:  depths[queue.StatusFailed],
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
