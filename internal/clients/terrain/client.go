// Package terrain samples terrain heights from an Open-Elevation style
// lookup service.
package terrain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/locationbar/server/internal/cache"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/metrics"
)

// Client defaults
const (
	DefaultBaseURL           = "https://api.open-elevation.com"
	DefaultRequestsPerSecond = 5
	DefaultCacheTTL          = 24 * time.Hour
)

var (
	// ErrRateLimited is returned when the service rejects a request with 429
	ErrRateLimited = errors.New("terrain service rate limit exceeded")
	// ErrNoElevation is returned when the service has no height for a point
	ErrNoElevation = errors.New("elevation not found")
)

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client samples the most detailed terrain height available at a point.
// Heights are meters above the WGS84 ellipsoid.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	limiter    *rate.Limiter
	cache      *cache.Cache
	cacheTTL   time.Duration
}

// NewClient creates a terrain client talking to baseURL
func NewClient(baseURL string, requestsPerSecond float64, cacheTTL time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, requestsPerSecond, cacheTTL, &http.Client{
		Timeout: 10 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a terrain client with a custom HTTP doer
func NewClientWithHTTPDoer(baseURL string, requestsPerSecond float64, cacheTTL time.Duration, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: doer,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		cache:      cache.NewCache(),
		cacheTTL:   cacheTTL,
	}
}

// Cache returns the sample cache, for periodic cleanup
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

type lookupLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []lookupLocation `json:"locations"`
}

type lookupResponse struct {
	Results []struct {
		Latitude  float64  `json:"latitude"`
		Longitude float64  `json:"longitude"`
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// SampleHeight returns the terrain height at pos. Cached samples are
// served without contacting the service.
func (c *Client) SampleHeight(ctx context.Context, pos geo.Position) (float64, error) {
	if c.cacheTTL > 0 {
		height, found, err := c.cache.GetSample(pos.Longitude, pos.Latitude)
		if err != nil {
			logging.Warnw(ctx, "Terrain cache read failed", "error", err)
		} else if found {
			metrics.TerrainCacheHits.Inc()
			return height, nil
		}
	}

	height, err := c.lookup(ctx, pos)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrRateLimited) {
			status = "rate_limited"
		}
		metrics.TerrainRequests.WithLabelValues(status).Inc()
		return 0, err
	}
	metrics.TerrainRequests.WithLabelValues("ok").Inc()

	if c.cacheTTL > 0 {
		if err := c.cache.SetSample(pos.Longitude, pos.Latitude, height, c.cacheTTL); err != nil {
			logging.Warnw(ctx, "Terrain cache write failed", "error", err)
		}
	}
	return height, nil
}

func (c *Client) lookup(ctx context.Context, pos geo.Position) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("terrain rate limiter: %w", err)
	}

	body, err := json.Marshal(lookupRequest{
		Locations: []lookupLocation{{Latitude: pos.Latitude, Longitude: pos.Longitude}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/lookup", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("terrain API error %d: %s", resp.StatusCode, string(msg))
	}

	var response lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Results) == 0 || response.Results[0].Elevation == nil {
		return 0, ErrNoElevation
	}
	return *response.Results[0].Elevation, nil
}
