package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

func newTestLive(t *testing.T) (*RedisLive, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	live, err := NewRedisLive(mr.Addr(), "", 0, 5*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisLive: %v", err)
	}
	t.Cleanup(func() { live.Close() })
	return live, mr
}

func TestRedisLive_PositionRoundTrip(t *testing.T) {
	live, _ := newTestLive(t)

	want := tracking.Position{Lat: -23.55, Lon: -46.63, SpeedKmh: 42, Timestamp: time.Now().UTC().Truncate(time.Second)}
	live.Put("position:vehicle-1", want)

	got, err := live.GetPosition(context.Background(), "vehicle-1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.Lat != want.Lat || got.Lon != want.Lon || got.SpeedKmh != want.SpeedKmh {
		t.Errorf("position = %+v, want %+v", got, want)
	}
}

func TestRedisLive_Miss(t *testing.T) {
	live, _ := newTestLive(t)

	if _, err := live.GetPosition(context.Background(), "ghost"); !errors.Is(err, ErrLiveMiss) {
		t.Errorf("GetPosition miss = %v, want ErrLiveMiss", err)
	}
	if _, err := live.GetTrip(context.Background(), "ghost"); !errors.Is(err, ErrLiveMiss) {
		t.Errorf("GetTrip miss = %v, want ErrLiveMiss", err)
	}
}

func TestRedisLive_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	live, err := NewRedisLive(mr.Addr(), "", 0, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisLive: %v", err)
	}
	defer live.Close()

	live.Put("position:vehicle-1", tracking.Position{Lat: 1, Lon: 2})
	mr.FastForward(2 * time.Second)

	if _, err := live.GetPosition(context.Background(), "vehicle-1"); !errors.Is(err, ErrLiveMiss) {
		t.Errorf("GetPosition after TTL = %v, want ErrLiveMiss", err)
	}
}

func TestRedisLive_TripRoundTrip(t *testing.T) {
	live, _ := newTestLive(t)

	live.Put("trip:vehicle-1", &tracking.Session{
		VehicleID: "vehicle-1",
		Status:    tracking.StatusActive,
		Driver:    tracking.DriverInfo{ID: "driver-1", Name: "Carlos"},
	})

	got, err := live.GetTrip(context.Background(), "vehicle-1")
	if err != nil {
		t.Fatalf("GetTrip: %v", err)
	}
	if got.Status != tracking.StatusActive || got.Driver.Name != "Carlos" {
		t.Errorf("trip = %+v", got)
	}
}

func TestFanoutLive(t *testing.T) {
	live, _ := newTestLive(t)
	rec := &recordingStore{}
	fan := FanoutLive{live, rec}

	fan.Put("position:vehicle-1", tracking.Position{Lat: 1, Lon: 2})

	if rec.puts != 1 {
		t.Errorf("recording store puts = %d, want 1", rec.puts)
	}
	if _, err := live.GetPosition(context.Background(), "vehicle-1"); err != nil {
		t.Errorf("redis side should have the value: %v", err)
	}
}

type recordingStore struct{ puts int }

func (r *recordingStore) Put(string, interface{}) { r.puts++ }
