package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/ingest"
	"github.com/airguard/airguard/server/internal/store"
)

// StatusSource reports pipeline progress.
type StatusSource interface {
	Status() ingest.Status
}

// Link reports whether a transport is connected.
type Link interface {
	Connected() bool
}

// Deps are the read-only views the API serves from. Breaker and Clients
// may be nil.
type Deps struct {
	Status   StatusSource
	Devices  store.DeviceStates
	Ping     func(ctx context.Context) error
	Feed     Link
	Commands Link
	Backend  string
	Cooldown time.Duration
	Breaker  func() string
	Clients  func() int
	Started  time.Time
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

// New creates a Handler and registers all routes.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/devices/", h.device) // subtree; extracts {kind}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: link, storage and classifier state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.buildHealth(r.Context()))
}

// status returns GET /api/v1/status: last reading, classification and
// alert outcome, counters and diagnostics.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := h.now()
	st := h.deps.Status.Status()
	jsonResp(w, http.StatusOK, StatusResponse{
		LastReading:        st.LastReading,
		LastClassification: st.LastClassification,
		LastAlert:          st.LastAlert,
		Stats:              st.Stats,
		CooldownSeconds:    h.deps.Cooldown.Seconds(),
		Diagnostics:        computeDiagnostics(st, h.buildHealth(r.Context()), now),
		GeneratedAt:        now.UTC().Format(time.RFC3339),
	})
}

// device returns GET /api/v1/devices/{kind}: the desired state of one
// device.
func (h *Handler) device(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	kind := types.DeviceKind(strings.TrimPrefix(r.URL.Path, "/api/v1/devices/"))
	if !kind.Valid() {
		jsonErr(w, http.StatusNotFound, "unknown device kind")
		return
	}

	ds, err := h.deps.Devices.DeviceState(r.Context(), kind)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "device state not set")
		return
	case err != nil:
		jsonErr(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	jsonResp(w, http.StatusOK, ds)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) buildHealth(ctx context.Context) HealthResponse {
	now := h.now()
	resp := HealthResponse{
		StorageBackend:   h.deps.Backend,
		StorageReachable: true,
		UptimeSeconds:    now.Sub(h.deps.Started).Seconds(),
		StartedAt:        h.deps.Started.UTC().Format(time.RFC3339),
	}
	if h.deps.Feed != nil {
		resp.FeedConnected = h.deps.Feed.Connected()
	}
	if h.deps.Commands != nil {
		resp.CommandConnected = h.deps.Commands.Connected()
	}
	if h.deps.Ping != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.deps.Ping(pctx)
		cancel()
		resp.StorageReachable = err == nil
		if err != nil {
			resp.StorageError = err.Error()
		}
	}
	if h.deps.Breaker != nil {
		resp.ClassifierBreaker = h.deps.Breaker()
	}
	if h.deps.Clients != nil {
		resp.StreamClients = h.deps.Clients()
	}

	resp.State = "ok"
	if !resp.FeedConnected || !resp.StorageReachable || resp.ClassifierBreaker == "open" {
		resp.State = "degraded"
	}
	return resp
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
