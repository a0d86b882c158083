package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"oscrelay/internal/relay"
	"oscrelay/internal/runtime/supervisor"
	"oscrelay/internal/scheduler"
	"oscrelay/internal/storage"
)

// ErrUnknownConfig is returned by a Backend for ids absent from the config.
var ErrUnknownConfig = errors.New("unknown config")

// ErrInvalidValue is returned by Backend.Send for values OSC cannot carry.
var ErrInvalidValue = errors.New("invalid value")

// ConfigView summarizes one configured relay.
type ConfigView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ListenIP     string `json:"listen_ip"`
	ListenPort   int    `json:"listen_port"`
	AutoStart    bool   `json:"auto_start"`
	HideUnmapped bool   `json:"hide_unmapped"`
	Mappings     int    `json:"mappings"`
	Running      bool   `json:"running"`
}

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	IP    string `json:"ip"`
	Port  int    `json:"port"`
	Topic string `json:"topic"`
	Value any    `json:"value"`
}

// RuntimeView is the operational state behind GET /api/runtime.
type RuntimeView struct {
	Instances   []relay.InstanceInfo           `json:"instances"`
	Pool        []relay.Endpoint               `json:"pool"`
	PoolCreated uint64                         `json:"pool_created"`
	Supervisors map[string]supervisor.Snapshot `json:"supervisors"`
	LogExport   scheduler.Status               `json:"log_export"`
}

// Backend is what the API drives. Lifecycle calls take the id of a
// configured relay and return relay sentinel errors.
type Backend interface {
	Status() relay.Status
	Instances() []relay.InstanceInfo
	Configs() []ConfigView
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	StopAll(ctx context.Context)
	ConfigLogs(id string) []string
	ClearConfigLogs(ctx context.Context, id string)
	Send(ctx context.Context, req SendRequest) error
	ExportLogs() []byte
	Audit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
	Runtime() RuntimeView
}

// NewHandler builds the API router. metrics may be nil.
func NewHandler(b Backend, metrics http.Handler) http.Handler {
	h := &handler{b: b}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/instances", h.instances)
	mux.HandleFunc("GET /api/configs", h.configs)
	mux.HandleFunc("POST /api/configs/{id}/start", h.lifecycle(b.Start))
	mux.HandleFunc("POST /api/configs/{id}/stop", h.lifecycle(b.Stop))
	mux.HandleFunc("POST /api/configs/{id}/restart", h.lifecycle(b.Restart))
	mux.HandleFunc("POST /api/stop-all", h.stopAll)
	mux.HandleFunc("GET /api/configs/{id}/logs", h.configLogs)
	mux.HandleFunc("DELETE /api/configs/{id}/logs", h.clearLogs)
	mux.HandleFunc("POST /api/send", h.send)
	mux.HandleFunc("GET /api/logs/export", h.export)
	mux.HandleFunc("GET /api/audit", h.audit)
	mux.HandleFunc("GET /api/runtime", h.runtime)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

type handler struct {
	b Backend
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.Status())
}

func (h *handler) instances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.Instances())
}

func (h *handler) runtime(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.Runtime())
}

func (h *handler) configs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.b.Configs())
}

func (h *handler) lifecycle(op func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := op(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config_id": id, "running": h.isRunning(id)})
	}
}

func (h *handler) isRunning(id string) bool {
	for _, rid := range h.b.Status().RunningConfigs {
		if rid == id {
			return true
		}
	}
	return false
}

func (h *handler) stopAll(w http.ResponseWriter, r *http.Request) {
	h.b.StopAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) configLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": h.b.ConfigLogs(r.PathValue("id"))})
}

func (h *handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	h.b.ClearConfigLogs(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body: " + err.Error()})
		return
	}
	if req.IP == "" || req.Port < 1 || req.Port > 65535 || len(req.Topic) == 0 || req.Topic[0] != '/' {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "ip, port and a topic starting with '/' are required"})
		return
	}
	if err := h.b.Send(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handler) export(w http.ResponseWriter, _ *http.Request) {
	body := h.b.ExportLogs()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", scheduler.FileName(time.Now())))
	_, _ = w.Write(body)
}

func (h *handler) audit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	entries, err := h.b.Audit(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownConfig):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrAlreadyRunning), errors.Is(err, relay.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, relay.ErrMalformedPattern), errors.Is(err, relay.ErrInvalidMapping):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relay.ErrBind), errors.Is(err, relay.ErrSend):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrClosed), errors.Is(err, relay.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
