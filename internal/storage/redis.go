package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

// ErrLiveMiss is returned when no live state exists for the key.
var ErrLiveMiss = errors.New("storage: live state not found")

// RedisLive mirrors the latest per-vehicle state into Redis so other
// processes (HTTP API, dashboards) can read it without touching the gateway.
// It satisfies tracking.LiveStore.
type RedisLive struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLive connects to Redis and verifies the connection.
func NewRedisLive(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*RedisLive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLive{client: client, ttl: ttl, logger: logger}, nil
}

// Put stores the value as JSON under the key with the configured TTL.
// Marshal or write failures are logged, not propagated; Redis is a mirror,
// not the source of truth.
func (r *RedisLive) Put(key string, value interface{}) {
	b, err := json.Marshal(value)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("live state marshal failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, "live:"+key, b, r.ttl).Err(); err != nil && r.logger != nil {
		r.logger.Warn("live state write failed", zap.String("key", key), zap.Error(err))
	}
}

// GetPosition reads the latest mirrored position for the vehicle.
func (r *RedisLive) GetPosition(ctx context.Context, vehicleID string) (*tracking.Position, error) {
	b, err := r.client.Get(ctx, "live:position:"+vehicleID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLiveMiss
		}
		return nil, err
	}
	var p tracking.Position
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetTrip reads the latest mirrored session state for the vehicle.
func (r *RedisLive) GetTrip(ctx context.Context, vehicleID string) (*tracking.Session, error) {
	b, err := r.client.Get(ctx, "live:trip:"+vehicleID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLiveMiss
		}
		return nil, err
	}
	var s tracking.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Close releases the underlying connection.
func (r *RedisLive) Close() error {
	return r.client.Close()
}

// FanoutLive forwards live-state writes to every underlying store.
type FanoutLive []tracking.LiveStore

func (f FanoutLive) Put(key string, value interface{}) {
	for _, s := range f {
		s.Put(key, value)
	}
}
