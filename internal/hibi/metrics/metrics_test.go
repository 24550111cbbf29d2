package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.EventsLogged.Inc()
	m.ObserveGeneration("done")
	m.ObserveGeneration("done")
	m.ObserveGeneration("no_events")
	m.ObserveCompletion(2*time.Second, 120, 80)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsLogged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Generations.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Generations.WithLabelValues("no_events")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.Tokens.WithLabelValues("prompt")))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.Tokens.WithLabelValues("completion")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.EventsLogged.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hibi_events_logged_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
