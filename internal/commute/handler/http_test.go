package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/commute"
	"github.com/example/rentscout/internal/commute/cache"
	"github.com/example/rentscout/internal/commute/handler"
	"github.com/example/rentscout/internal/listing/domain"
	"github.com/example/rentscout/internal/listing/repository"
	"github.com/example/rentscout/internal/maps"
)

func newServer(t *testing.T) (*httptest.Server, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store := cache.NewMemoryStore(time.Hour)
	filter, err := commute.NewGeoFilter(repo, nil)
	require.NoError(t, err)
	svc, err := commute.NewService(filter, store, nil, nil, nil, commute.Config{BatchPause: time.Millisecond})
	require.NoError(t, err)

	srv := httptest.NewServer(handler.NewHTTP(svc, maps.NewIsochroneApproximator(nil, nil, 0)).Router())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postSearch(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/commute/search", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSearchEndpoint(t *testing.T) {
	srv, repo := newServer(t)
	repo.Seed(domain.Listing{Title: "studio", Price: 14000, Active: true, Lat: 25.048, Lng: 121.518})

	resp := postSearch(t, srv, `{
		"destination": {"lat": 25.0478, "lng": 121.5170},
		"mode": "transit",
		"max_commute_minutes": 60
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Listings        []commute.ListingWithCommute `json:"listings"`
		DestinationHash string                       `json:"destination_hash"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Listings, 1)
	require.True(t, body.Listings[0].Estimated)
	require.Contains(t, body.DestinationHash, ":transit")
}

func TestSearchEndpointValidation(t *testing.T) {
	srv, _ := newServer(t)

	cases := []string{
		`{"mode": "transit", "max_commute_minutes": 30}`,
		`{"destination": {"lat": 91, "lng": 0}, "mode": "transit", "max_commute_minutes": 30}`,
		`{"destination": {"lat": 25, "lng": 121}, "mode": "teleport", "max_commute_minutes": 30}`,
		`{"destination": {"lat": 25, "lng": 121}, "mode": "transit"}`,
		`not json`,
	}
	for _, body := range cases {
		resp := postSearch(t, srv, body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestPopularEndpointLimit(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/v1/commute/popular?limit=99")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/commute/popular")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIsochroneEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/v1/commute/isochrone?lat=25.0478&lng=121.5170&mode=walking&max_km=3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var poly maps.Polygon
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&poly))
	require.Equal(t, "FeatureCollection", poly.Type)
	require.Equal(t, "walking", poly.Features[0].Properties.Mode)
	require.Equal(t, 3.0, poly.Features[0].Properties.RadiusKm)

	resp, err = http.Get(srv.URL + "/v1/commute/isochrone?lat=abc&lng=121")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/commute/isochrone?lat=25.0478&lng=121.5170&max_km=-2")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
