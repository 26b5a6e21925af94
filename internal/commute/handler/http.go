package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/rentscout/internal/commute"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/maps"
)

// HTTP exposes the commute search endpoints.
type HTTP struct {
	svc       *commute.Service
	isochrone *maps.IsochroneApproximator
}

// NewHTTP constructs a handler. isochrone may be nil; the endpoint then
// reports 503.
func NewHTTP(svc *commute.Service, isochrone *maps.IsochroneApproximator) *HTTP {
	return &HTTP{svc: svc, isochrone: isochrone}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Post("/v1/commute/search", h.search)
	r.Get("/v1/commute/popular", h.popular)
	r.Get("/v1/commute/isochrone", h.isochroneHandler)
	return r
}

type searchRequest struct {
	Destination struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"destination"`
	Mode       string  `json:"mode"`
	MaxMinutes int     `json:"max_commute_minutes"`
	RadiusKm   float64 `json:"radius_km"`
	Filters    struct {
		MinPrice int     `json:"min_price"`
		MaxPrice int     `json:"max_price"`
		MinSize  float64 `json:"min_size"`
		City     string  `json:"city"`
		District string  `json:"district"`
	} `json:"filters"`
}

func (h *HTTP) search(w http.ResponseWriter, r *http.Request) {
	var payload searchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Destination.Lat == nil || payload.Destination.Lng == nil {
		writeError(w, http.StatusBadRequest, "destination lat and lng are required")
		return
	}
	dest := domain.Coordinate{Lat: *payload.Destination.Lat, Lng: *payload.Destination.Lng}
	if !dest.Valid() {
		writeError(w, http.StatusBadRequest, "destination out of range")
		return
	}
	mode := payload.Mode
	if mode == "" {
		mode = domain.ModeTransit
	}
	if !domain.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, "unsupported commute mode: "+mode)
		return
	}
	if payload.MaxMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "max_commute_minutes must be positive")
		return
	}

	resp, err := h.svc.Search(r.Context(), commute.SearchRequest{
		Destination: dest,
		Mode:        mode,
		MaxMinutes:  payload.MaxMinutes,
		RadiusKm:    payload.RadiusKm,
		Filters: domain.Filters{
			MinPrice: payload.Filters.MinPrice,
			MaxPrice: payload.Filters.MaxPrice,
			MinSize:  payload.Filters.MinSize,
			City:     payload.Filters.City,
			District: payload.Filters.District,
		},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTP) popular(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}
	stats, err := h.svc.PopularDestinations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destinations": stats})
}

func (h *HTTP) isochroneHandler(w http.ResponseWriter, r *http.Request) {
	if h.isochrone == nil {
		writeError(w, http.StatusServiceUnavailable, "isochrone cache unavailable")
		return
	}
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	center := domain.Coordinate{Lat: lat, Lng: lng}
	if !center.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	mode := q.Get("mode")
	if mode == "" {
		mode = domain.ModeTransit
	}
	if !domain.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, "unsupported commute mode: "+mode)
		return
	}
	maxKm := 5.0
	if raw := q.Get("max_km"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "max_km must be positive")
			return
		}
		maxKm = parsed
	}

	feature, err := h.isochrone.ReachabilityPolygon(r.Context(), center, maxKm, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feature)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
