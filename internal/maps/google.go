package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/rentscout/internal/listing/domain"
)

const distanceMatrixURL = "https://maps.googleapis.com/maps/api/distancematrix/json"

// matrixCacheTTL bounds how long raw provider responses are reused. Same
// policy as commute entries: one week.
const matrixCacheTTL = 7 * 24 * time.Hour

// GoogleClient queries the Google Distance Matrix API. Raw responses are
// cached in redis keyed by the exact origins/destination/mode triple so
// identical batches within the TTL cost no quota. The redis client may be
// nil; caching is then skipped.
type GoogleClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cache   redis.Cmdable
	logger  *zap.Logger
}

// GoogleOption tweaks client construction.
type GoogleOption func(*GoogleClient)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) GoogleOption {
	return func(c *GoogleClient) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) GoogleOption {
	return func(c *GoogleClient) { c.http = h }
}

// NewGoogleClient builds the provider. cache and logger may be nil.
func NewGoogleClient(apiKey string, cache redis.Cmdable, logger *zap.Logger, opts ...GoogleOption) *GoogleClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &GoogleClient{
		apiKey:  apiKey,
		baseURL: distanceMatrixURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// matrixResponse mirrors the parts of the Distance Matrix payload we use.
// rows[i] corresponds to origins[i]; each row has one element because every
// request carries exactly one destination.
type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int `json:"value"` // seconds
			} `json:"duration"`
			Distance struct {
				Value int `json:"value"` // meters
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
}

// BatchDurations satisfies Provider. origins must not exceed MaxBatchSize;
// larger sets are the caller's responsibility to split. Total failure
// (missing key, network error, non-OK top-level status) returns
// ErrUnavailable; per-origin routing failures come back as Result{OK: false}.
func (c *GoogleClient) BatchDurations(ctx context.Context, origins []domain.Coordinate, dest domain.Coordinate, mode string) ([]Result, error) {
	if len(origins) == 0 {
		return nil, nil
	}
	if len(origins) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds provider cap %d", len(origins), MaxBatchSize)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	originsParam := joinOrigins(origins)
	destParam := fmt.Sprintf("%f,%f", dest.Lat, dest.Lng)

	body, err := c.fetch(ctx, originsParam, destParam, mode)
	if err != nil {
		return nil, err
	}

	var matrix matrixResponse
	if err := json.Unmarshal(body, &matrix); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if matrix.Status != "OK" {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, matrix.Status)
	}
	if len(matrix.Rows) != len(origins) {
		return nil, fmt.Errorf("%w: %d rows for %d origins", ErrUnavailable, len(matrix.Rows), len(origins))
	}

	results := make([]Result, len(origins))
	for i, row := range matrix.Rows {
		if len(row.Elements) == 0 || row.Elements[0].Status != "OK" || row.Elements[0].Duration.Value < 0 {
			continue
		}
		el := row.Elements[0]
		results[i] = Result{
			OK:              true,
			DurationMinutes: int(math.Ceil(float64(el.Duration.Value) / 60)),
		}
		if el.Distance.Value > 0 {
			results[i].DistanceKm = km(math.Round(float64(el.Distance.Value)/100) / 10)
		}
	}
	return results, nil
}

func (c *GoogleClient) fetch(ctx context.Context, origins, dest, mode string) ([]byte, error) {
	cacheKey := "matrix:" + origins + ":" + dest + ":" + mode
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("origins", origins)
	params.Set("destinations", dest)
	params.Set("mode", mode)
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, body, matrixCacheTTL).Err(); err != nil {
			c.logger.Warn("matrix response cache write failed", zap.Error(err))
		}
	}
	return body, nil
}

// joinOrigins formats origins pipe-delimited the way the matrix API expects.
func joinOrigins(origins []domain.Coordinate) string {
	parts := make([]string, len(origins))
	for i, o := range origins {
		parts[i] = fmt.Sprintf("%f,%f", o.Lat, o.Lng)
	}
	return strings.Join(parts, "|")
}
