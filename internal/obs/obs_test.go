package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"tellerline.org/internal/errs"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/metrics":       "/metrics",
		"/healthz":       "/healthz",
		"/v1/info":       "/v1/info",
		"/v1/accounts/7": "other",
		"":               "other",
	}
	for input, want := range cases {
		require.Equal(t, want, CanonicalPath(input), input)
	}
}

func TestOutcome(t *testing.T) {
	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "conflict", Outcome(errs.Conflictf("dup")))
	require.Equal(t, "unknown", Outcome(errors.New("boom")))
}

func TestObserveScopeOp(t *testing.T) {
	before := counterValue(t, scopeOpsTotal.WithLabelValues("SelectAccount", "permission_denied"))
	ObserveScopeOp("SelectAccount", errs.Denied("SelectAccount", "not linked"))
	after := counterValue(t, scopeOpsTotal.WithLabelValues("SelectAccount", "permission_denied"))
	require.Equal(t, before+1, after)
}

func TestInstrumentCountsRequests(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, before+1, counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418")))
}

func TestLoggerOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	require.NoError(t, SetLevel("warn"))
	t.Cleanup(func() { _ = SetLevel("info") })

	l := Logger()
	l.Info().Msg("dropped")
	l.Warn().Str("scope", "view").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "view", entry["scope"])
	require.Equal(t, "tellerline", entry["service"])

	require.Error(t, SetLevel("loud"))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
