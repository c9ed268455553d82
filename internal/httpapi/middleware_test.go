package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tellerline.org/internal/obs"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestIDPropagatesOrMints(t *testing.T) {
	h := RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Len(t, rec.Header().Get(requestIDHeader), 26)
}

func TestLoggingWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	t.Cleanup(func() { obs.SetOutput(os.Stdout) })

	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set(requestIDHeader, "req-1")
	RequestID(Logging(okHandler())).ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http request", line["message"])
	require.Equal(t, "/v1/info", line["path"])
	require.EqualValues(t, http.StatusNoContent, line["status"])
	require.Equal(t, "req-1", line["request_id"])
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRateLimitPerClient(t *testing.T) {
	l := newLimiter(RateConfig{PerSecond: 1, Burst: 2})
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	h := rateLimit(okHandler(), l)

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	require.Equal(t, http.StatusNoContent, hit("10.0.0.2"), "buckets are per client")

	now = now.Add(time.Second)
	require.Equal(t, http.StatusNoContent, hit("10.0.0.1"), "bucket refills")
}

func TestRateLimitSweepsIdleBuckets(t *testing.T) {
	l := newLimiter(RateConfig{PerSecond: 10, Burst: 10})
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.True(t, l.allow("a"))
	require.True(t, l.allow("b"))
	now = now.Add(10 * time.Minute)
	require.True(t, l.allow("c"))

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.buckets, 1)
	require.Contains(t, l.buckets, "c")
}

func TestRateLimitConcurrentClients(t *testing.T) {
	h := RateLimit(okHandler(), RateConfig{PerSecond: 1000, Burst: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i%8))
			h.ServeHTTP(httptest.NewRecorder(), req)
		}(i)
	}
	wg.Wait()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	require.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "pipe"
	require.Equal(t, "pipe", clientIP(req))
}
