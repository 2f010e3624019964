// ABOUTME: Tests for the metrics HTTP middleware
// ABOUTME: Verifies status capture, path labelling and hijack pass-through

package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestCount reads switchboard_http_requests_total for one label set.
func requestCount(t *testing.T, method, path, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "switchboard_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["path"] == path && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMiddleware_RecordsStatusAndPath(t *testing.T) {
	h := Middleware(func(*http.Request) string { return "/things/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("missing") != "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))

	before200 := requestCount(t, "GET", "/things/{id}", "200")
	before404 := requestCount(t, "GET", "/things/{id}", "404")

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/2", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/3?missing=1", nil))

	assert.Equal(t, before200+2, requestCount(t, "GET", "/things/{id}", "200"))
	assert.Equal(t, before404+1, requestCount(t, "GET", "/things/{id}", "404"))
}

func TestStatusWriter_Hijack(t *testing.T) {
	var hijacked atomic.Bool
	h := Middleware(func(*http.Request) string { return "/upgrade" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hj, ok := w.(http.Hijacker)
			if !ok {
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				hijacked.Store(true)
				_ = conn.Close()
			}
		}))

	srv := httptest.NewServer(h)
	defer srv.Close()

	before := requestCount(t, "GET", "/upgrade", "101")
	resp, err := http.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
	}

	assert.Eventually(t, hijacked.Load, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return requestCount(t, "GET", "/upgrade", "101") == before+1
	}, time.Second, 10*time.Millisecond)
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	w := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := w.Hijack()
	assert.Error(t, err)
}
