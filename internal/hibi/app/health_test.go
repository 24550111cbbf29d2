package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/Hibi/internal/hibi/app"
	"github.com/bdobrica/Hibi/internal/hibi/metrics"
)

// fakeStats satisfies the statusProvider interface.
type fakeStats struct {
	users, events int
	err           error
}

func (f *fakeStats) UserCount(context.Context) (int, error)  { return f.users, f.err }
func (f *fakeStats) EventCount(context.Context) (int, error) { return f.events, f.err }

func TestHealthServer_Health(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStats{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}

func TestHealthServer_Status(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStats{users: 2, events: 7}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	hs.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if int(resp["user_count"].(float64)) != 2 {
		t.Errorf("expected user_count 2, got %v", resp["user_count"])
	}
	if int(resp["event_count"].(float64)) != 7 {
		t.Errorf("expected event_count 7, got %v", resp["event_count"])
	}
}

func TestHealthServer_StatusDegraded(t *testing.T) {
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStats{err: errors.New("db closed")}, nil)

	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("expected degraded status, got %s", w.Body.String())
	}
}

func TestHealthServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.ObserveGeneration("done")
	hs := app.NewHealthServer("127.0.0.1:0", &fakeStats{}, m.Handler())

	w := httptest.NewRecorder()
	hs.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `hibi_generations_total{outcome="done"} 1`) {
		t.Errorf("metrics output missing generation counter:\n%s", w.Body.String())
	}
}

func TestHealthServer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := app.NewHealthServer("127.0.0.1:0", &fakeStats{}, nil)
	if err := hs.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hs.Stop()
}
