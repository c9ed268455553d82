package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"tellerline.org/internal/capability"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/roles"
)

const serviceName = "tellerline"

// Pinger is satisfied by *pg.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database. A nil Pinger is always ready.
type ReadyProbe struct {
	DB      Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	if rp.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.Timeout)
		defer cancel()
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the operational HTTP surface.
type API struct {
	mux       *http.ServeMux
	readiness readinessChecker
	version   string
	now       func() time.Time
}

func New(r readinessChecker, version string) *API {
	a := &API{
		mux:       http.NewServeMux(),
		readiness: r,
		version:   version,
		now:       time.Now,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.HandleFunc("GET /v1/reference", a.Reference)
	a.mux.Handle("GET /metrics", obs.Handler())

	return a
}

// Handler wraps the mux with the standard middleware chain.
func (a *API) Handler(limit RateConfig) http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	if limit.PerSecond > 0 {
		h = RateLimit(h, limit)
	}
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readiness.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

type statusEntry struct {
	ID      int    `json:"status_id"`
	Name    string `json:"status_name"`
	Blocked bool   `json:"blocked"`
}

// Reference serves the immutable enumerations the rest of the system keys on.
func (a *API) Reference(w http.ResponseWriter, r *http.Request) {
	statuses := make([]statusEntry, 0, len(roles.Statuses()))
	for _, s := range roles.Statuses() {
		statuses = append(statuses, statusEntry{ID: int(s), Name: s.String(), Blocked: s.Blocked()})
	}
	types := make(map[capability.TransactionType]capability.Capability)
	for _, t := range capability.TransactionTypes() {
		c, _ := t.RequiredCapability()
		types[t] = c
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":             roles.Roles(),
		"access_roles":      roles.AccessRoles(),
		"account_statuses":  statuses,
		"transaction_types": types,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
