package watcher

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ramiqadoumi/go-poll-sync/internal/domain"
	"github.com/ramiqadoumi/go-poll-sync/internal/state"
	"github.com/ramiqadoumi/go-poll-sync/services/watcher/middleware"
)

// Mirror serves the reconciled queue state over HTTP, so dashboards and
// scripts can read what the watcher sees without hitting the upstream
// service themselves.
type Mirror struct {
	store  *state.Store
	logger *slog.Logger
}

// NewMirror creates a read-only HTTP view over the store.
func NewMirror(store *state.Store, logger *slog.Logger) *Mirror {
	return &Mirror{store: store, logger: logger}
}

// Routes builds the chi router for the mirror server.
func (m *Mirror) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(m.logger))
	r.Get("/healthz", m.Healthz)
	r.Get("/readyz", m.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", m.GetQueue)
		r.Get("/queue/counts", m.GetCounts)
		r.Get("/jobs/{job_id}", m.GetJob)
	})
	return r
}

// JobResponse is the GET /api/v1/jobs/{job_id} response body.
type JobResponse struct {
	domain.QueueEntry
	Position *int `json:"queue_position,omitempty"`
}

// GetQueue handles GET /api/v1/queue.
func (m *Mirror) GetQueue(w http.ResponseWriter, _ *http.Request) {
	snap := m.store.Snapshot()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot observed yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetCounts handles GET /api/v1/queue/counts.
func (m *Mirror) GetCounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.store.Counts())
}

// GetJob handles GET /api/v1/jobs/{job_id}.
func (m *Mirror) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	entry, ok := m.store.ItemByJobID(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := JobResponse{QueueEntry: entry}
	if pos, pending := m.store.Position(jobID); pending {
		resp.Position = &pos
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz handles GET /healthz.
func (m *Mirror) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz. Ready means at least one snapshot has been
// applied, so the mirror is serving real data rather than an empty store.
func (m *Mirror) Readyz(w http.ResponseWriter, _ *http.Request) {
	if m.store.Snapshot() == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
