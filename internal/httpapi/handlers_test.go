package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tellerline.org/internal/obs"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type stubReadiness struct{ err error }

func (s stubReadiness) Check(context.Context) error { return s.err }

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body := map[string]any{}
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthzAndInfo(t *testing.T) {
	api := New(stubReadiness{}, "1.2.3")
	api.now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
	h := api.Handler(RateConfig{})

	rec, body := serve(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "1.2.3", body["version"])

	rec, body = serve(t, h, "/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tellerline", body["name"])
	require.Equal(t, "2026-05-01T09:30:00Z", body["time"])
}

func TestReadyz(t *testing.T) {
	rec, body := serve(t, New(stubReadiness{}, "dev").Handler(RateConfig{}), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", body["status"])

	rec, body = serve(t, New(stubReadiness{err: errors.New("db down")}, "dev").Handler(RateConfig{}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "not_ready", body["status"])
	require.Equal(t, "db down", body["error"])
}

func TestReadyProbe(t *testing.T) {
	require.NoError(t, ReadyProbe{}.Check(context.Background()))

	var deadline bool
	probe := ReadyProbe{DB: pingFunc(func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return errors.New("refused")
	}), Timeout: time.Second}
	require.EqualError(t, probe.Check(context.Background()), "refused")
	require.True(t, deadline)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReference(t *testing.T) {
	rec := httptest.NewRecorder()
	New(stubReadiness{}, "dev").Handler(RateConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reference", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Roles []struct {
			ID   int    `json:"role_id"`
			Name string `json:"role_name"`
		} `json:"roles"`
		AccessRoles []struct {
			ID   int    `json:"access_role_id"`
			Name string `json:"access_role_name"`
		} `json:"access_roles"`
		Statuses []struct {
			ID      int    `json:"status_id"`
			Name    string `json:"status_name"`
			Blocked bool   `json:"blocked"`
		} `json:"account_statuses"`
		Types map[string]string `json:"transaction_types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Roles, 3)
	require.Len(t, body.AccessRoles, 3)
	require.Equal(t, 1, body.AccessRoles[0].ID)
	require.Len(t, body.Statuses, 10)
	require.Equal(t, "canApplyLoan", body.Types["loan_application"])
	require.Equal(t, "canTransact", body.Types["bill_payment"])
}

func TestMetricsEndpoint(t *testing.T) {
	obs.Init()
	h := New(stubReadiness{}, "dev").Handler(RateConfig{})
	serve(t, h, "/healthz")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := New(stubReadiness{}, "dev").Handler(RateConfig{})
	rec, _ := serve(t, h, "/v1/nothing")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
