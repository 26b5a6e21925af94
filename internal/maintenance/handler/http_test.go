package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/rentscout/internal/auth"
	"github.com/example/rentscout/internal/commute/cache"
	"github.com/example/rentscout/internal/listing/refresher"
	"github.com/example/rentscout/internal/listing/repository"
	"github.com/example/rentscout/internal/maintenance"
	"github.com/example/rentscout/internal/maintenance/handler"
)

const secret = "test-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store := cache.NewMemoryStore(time.Hour)
	svc, err := maintenance.New(repo, store, nil, nil)
	require.NoError(t, err)
	ref, err := refresher.New(repo, store, nil, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(handler.NewHTTP(svc, ref, secret).Router())
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, role string) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func get(t *testing.T, srv *httptest.Server, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatsRequiresAdminToken(t *testing.T) {
	srv := newServer(t)

	resp := get(t, srv, "/stats", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, srv, "/stats", token(t, "viewer"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = get(t, srv, "/stats", token(t, auth.RoleAdmin))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats maintenance.CoverageStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Zero(t, stats.TotalActiveListings)
}

func TestCleanupValidatesParameters(t *testing.T) {
	srv := newServer(t)
	adminToken := token(t, auth.RoleAdmin)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/cleanup?policy=aggressive", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, srv.URL+"/cleanup?policy=smart&keep_days=45", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report refresher.RetentionReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Equal(t, refresher.RetentionSmart, report.Policy)
}

func TestDailyEndpoint(t *testing.T) {
	srv := newServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/daily", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleAdmin))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report maintenance.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.NotZero(t, report.RunID)
}
