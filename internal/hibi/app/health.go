package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/Hibi/common/version"
)

// HealthServer exposes /health, /status and /metrics.
// It is optional; Hibi runs without it when http.addr is empty.
type HealthServer struct {
	addr      string
	stats     statusProvider
	startedAt time.Time
	server    *http.Server
	router    chi.Router
}

// statusProvider is the minimal interface the health server needs from the
// repository.
type statusProvider interface {
	UserCount(ctx context.Context) (int, error)
	EventCount(ctx context.Context) (int, error)
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	UserCount  int       `json:"user_count"`
	EventCount int       `json:"event_count"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
// metrics may be nil.
func NewHealthServer(addr string, sp statusProvider, metrics http.Handler) *HealthServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	hs := &HealthServer{
		addr:      addr,
		stats:     sp,
		startedAt: time.Now(),
		router:    r,
	}
	r.Get("/health", hs.handleHealth)
	r.Get("/status", hs.handleStatus)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Start begins listening in the background.  It returns once the listener is
// established.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

// handleStatus reports "degraded" with 503 when the store cannot be queried.
func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	code := http.StatusOK
	if h.stats != nil {
		users, uerr := h.stats.UserCount(r.Context())
		events, eerr := h.stats.EventCount(r.Context())
		if err := errors.Join(uerr, eerr); err != nil {
			slog.Warn("status: store query failed", "err", err)
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		resp.UserCount, resp.EventCount = users, events
	}
	writeJSON(w, code, resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
