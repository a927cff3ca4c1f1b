// Package routing wraps the external routing/geocoding service used for
// ETA computation and address resolution.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

// ErrServiceUnavailable is returned when the routing service cannot be
// reached or answers with a server error.
var ErrServiceUnavailable = errors.New("routing: service unavailable")

// ErrNotFound is returned when geocoding resolves nothing for the input.
var ErrNotFound = errors.New("routing: no result")

type routeResponse struct {
	DurationSeconds float64 `json:"duration_seconds"`
	DistanceMeters  float64 `json:"distance_meters"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
}

type geocodeResponse struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
}

// GeocodeResult is a resolved address.
type GeocodeResult struct {
	Lat     float64
	Lon     float64
	Address string
}

// Client talks to the routing service. It implements tracking.RouteEstimator.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a routing client. apiKey may be empty for unauthenticated
// deployments.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		http.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: http, logger: logger}
}

// Route returns travel time and distance between two coordinates.
func (c *Client) Route(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (tracking.RouteEstimate, error) {
	var out routeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from_lat": fmt.Sprintf("%.6f", fromLat),
			"from_lon": fmt.Sprintf("%.6f", fromLon),
			"to_lat":   fmt.Sprintf("%.6f", toLat),
			"to_lon":   fmt.Sprintf("%.6f", toLon),
		}).
		SetResult(&out).
		Get("/route")
	if err != nil {
		c.logger.Warn("routing call failed", zap.Error(err))
		return tracking.RouteEstimate{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		c.logger.Warn("routing call returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("message", out.Message),
		)
		return tracking.RouteEstimate{}, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode())
	}
	return tracking.RouteEstimate{
		Duration:       time.Duration(out.DurationSeconds * float64(time.Second)),
		DistanceMeters: out.DistanceMeters,
	}, nil
}

// Geocode resolves a free-form address to coordinates.
func (c *Client) Geocode(ctx context.Context, address string) (GeocodeResult, error) {
	var out geocodeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", address).
		SetResult(&out).
		Get("/geocode")
	if err != nil {
		c.logger.Warn("geocode call failed", zap.Error(err))
		return GeocodeResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if resp.StatusCode() == 404 {
		return GeocodeResult{}, ErrNotFound
	}
	if resp.IsError() {
		return GeocodeResult{}, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode())
	}
	return GeocodeResult{Lat: out.Lat, Lon: out.Lon, Address: out.Address}, nil
}
