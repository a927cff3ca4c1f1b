package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/route" {
			t.Errorf("path = %q, want /route", r.URL.Path)
		}
		if got := r.URL.Query().Get("from_lat"); got != "-23.550000" {
			t.Errorf("from_lat = %q, want -23.550000", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duration_seconds": 600, "distance_meters": 5200}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second, zap.NewNop())
	est, err := c.Route(context.Background(), -23.55, -46.63, -23.56, -46.64)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if est.Duration != 10*time.Minute {
		t.Errorf("Duration = %v, want 10m", est.Duration)
	}
	if est.DistanceMeters != 5200 {
		t.Errorf("DistanceMeters = %v, want 5200", est.DistanceMeters)
	}
}

func TestRoute_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second, zap.NewNop())
	_, err := c.Route(context.Background(), 0, 0, 1, 1)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Route error = %v, want ErrServiceUnavailable", err)
	}
}

func TestRoute_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 500*time.Millisecond, zap.NewNop())
	_, err := c.Route(context.Background(), 0, 0, 1, 1)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("Route error = %v, want ErrServiceUnavailable", err)
	}
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Rua Augusta 100" {
			t.Errorf("q = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lat": -23.551, "lon": -46.655, "address": "Rua Augusta, 100 - São Paulo"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", 5*time.Second, zap.NewNop())
	got, err := c.Geocode(context.Background(), "Rua Augusta 100")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if got.Lat != -23.551 || got.Lon != -46.655 {
		t.Errorf("coords = (%v, %v), want (-23.551, -46.655)", got.Lat, got.Lon)
	}
}

func TestGeocode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second, zap.NewNop())
	if _, err := c.Geocode(context.Background(), "nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Geocode error = %v, want ErrNotFound", err)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key", 2*time.Second, zap.NewNop())
	c.Route(context.Background(), 0, 0, 1, 1)
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
}
