package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/example/rentscout/internal/auth"
	"github.com/example/rentscout/internal/listing/refresher"
	"github.com/example/rentscout/internal/maintenance"
)

// HTTP exposes the admin maintenance endpoints. All routes require a JWT
// with the admin role when jwtSecret is non-empty.
type HTTP struct {
	svc       *maintenance.Service
	refresher *refresher.Refresher
	jwtSecret string
}

// NewHTTP constructs a handler. refresher may be nil; cleanup then reports
// 503.
func NewHTTP(svc *maintenance.Service, ref *refresher.Refresher, jwtSecret string) *HTTP {
	return &HTTP{svc: svc, refresher: ref, jwtSecret: jwtSecret}
}

// Router builds the chi router for the maintenance surface. Routes are
// relative; the caller mounts this under /v1/maintenance.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Logger, chimiddleware.Recoverer)
	if h.jwtSecret != "" {
		r.Use(auth.RequireAdmin(h.jwtSecret))
	}
	r.Post("/daily", h.daily)
	r.Post("/cleanup", h.cleanup)
	r.Get("/stats", h.stats)
	return r
}

func (h *HTTP) daily(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.DailyMaintenance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTP) cleanup(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresher unavailable")
		return
	}
	policy := refresher.RetentionSmart
	if raw := r.URL.Query().Get("policy"); raw != "" {
		switch refresher.RetentionPolicy(raw) {
		case refresher.RetentionSimple, refresher.RetentionSmart:
			policy = refresher.RetentionPolicy(raw)
		default:
			writeError(w, http.StatusBadRequest, "policy must be simple or smart")
			return
		}
	}
	keepDays := 30
	if raw := r.URL.Query().Get("keep_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "keep_days must be a positive integer")
			return
		}
		keepDays = parsed
	}

	report, err := h.refresher.Cleanup(r.Context(), policy, keepDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTP) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CoverageStatsReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
