// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP/WebSocket server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for durable positions/trips/notifications; empty disables durable writes.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for the live-state store (e.g. localhost:6379); empty disables it.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the Redis password; empty for no auth.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"REDIS_DB"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or a path to one; needed only when issuing tokens (tests, local tooling).
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or a path to one; required to verify bearer tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the expected iss claim (e.g. "kanghoo-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim (e.g. "kanghoo-realtime").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTExpiryWarnBuffer is how close to expiry a token may be before validation logs a warning (e.g. "5m").
	JWTExpiryWarnBuffer string `mapstructure:"JWT_EXPIRY_WARN_BUFFER"`

	// WSAllowedOrigins is a comma-separated list of allowed Origin values; empty means open mode (all origins accepted).
	WSAllowedOrigins string `mapstructure:"WS_ALLOWED_ORIGINS"`
	// WSMaxConnectionsPerIP caps concurrent connections per remote IP.
	WSMaxConnectionsPerIP int `mapstructure:"WS_MAX_CONNECTIONS_PER_IP"`
	// WSMaxMessagesPerWindowIP caps inbound messages per IP per rate window.
	WSMaxMessagesPerWindowIP int `mapstructure:"WS_MAX_MESSAGES_PER_WINDOW_IP"`
	// WSMaxMessagesPerWindowUser caps inbound messages per user per rate window.
	WSMaxMessagesPerWindowUser int `mapstructure:"WS_MAX_MESSAGES_PER_WINDOW_USER"`
	// WSRateWindow is the rate-limit window duration (e.g. "60s").
	WSRateWindow string `mapstructure:"WS_RATE_WINDOW"`
	// WSMaxPayloadBytes is the max inbound message size in bytes.
	WSMaxPayloadBytes int `mapstructure:"WS_MAX_PAYLOAD_BYTES"`
	// WSDuplicateThreshold is how many identical payloads a user may send inside the duplicate window before spam denial.
	WSDuplicateThreshold int `mapstructure:"WS_DUPLICATE_THRESHOLD"`
	// WSDuplicateWindow is the trailing window for duplicate-content detection (e.g. "5m").
	WSDuplicateWindow string `mapstructure:"WS_DUPLICATE_WINDOW"`
	// WSMaxViolations is the violation count that triggers an automatic blacklist.
	WSMaxViolations int `mapstructure:"WS_MAX_VIOLATIONS"`
	// WSBlacklistTTL is how long an auto-blacklist entry lasts (e.g. "1h").
	WSBlacklistTTL string `mapstructure:"WS_BLACKLIST_TTL"`
	// WSSweepInterval is how often expired windows and blacklist entries are purged (e.g. "60s").
	WSSweepInterval string `mapstructure:"WS_SWEEP_INTERVAL"`
	// WSHeartbeatInterval is the gateway ping interval; a connection silent for one full interval is terminated.
	WSHeartbeatInterval string `mapstructure:"WS_HEARTBEAT_INTERVAL"`

	// AuthUserRateLimit caps authenticated requests per user per auth window, independent of the governor.
	AuthUserRateLimit int `mapstructure:"AUTH_USER_RATE_LIMIT"`
	// AuthRateWindow is the auth-layer rate window duration (e.g. "60s").
	AuthRateWindow string `mapstructure:"AUTH_RATE_WINDOW"`

	// TrackingHistoryLimit caps the per-vehicle position history ring buffer.
	TrackingHistoryLimit int `mapstructure:"TRACKING_HISTORY_LIMIT"`
	// TrackingETADelta is the minimum ETA change that triggers a routing-service recompute (e.g. "5m").
	TrackingETADelta string `mapstructure:"TRACKING_ETA_DELTA"`
	// TrackingMaxSpeedKmh is the speed above which a speeding alert is emitted.
	TrackingMaxSpeedKmh float64 `mapstructure:"TRACKING_MAX_SPEED_KMH"`
	// TrackingMinSpeedKmh is the speed below which a vehicle is classified as stopped.
	TrackingMinSpeedKmh float64 `mapstructure:"TRACKING_MIN_SPEED_KMH"`

	// CacheTTL is the tracking-cache entry lifetime (e.g. "5m").
	CacheTTL string `mapstructure:"CACHE_TTL"`
	// CacheSweepInterval is how often the tracking cache purges expired entries (e.g. "60s").
	CacheSweepInterval string `mapstructure:"CACHE_SWEEP_INTERVAL"`
	// CacheFlushBatch is the durable-write batch size for the tracking cache.
	CacheFlushBatch int `mapstructure:"CACHE_FLUSH_BATCH"`

	// RoutingBaseURL is the external routing/geocoding service base URL; empty disables ETA recomputation.
	RoutingBaseURL string `mapstructure:"ROUTING_BASE_URL"`
	// RoutingAPIKey is the API key for the routing service.
	RoutingAPIKey string `mapstructure:"ROUTING_API_KEY"`
	// RoutingTimeout is the per-request timeout for routing calls (e.g. "10s").
	RoutingTimeout string `mapstructure:"ROUTING_TIMEOUT"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables telemetry export.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// LogLevel is the zap log level: debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "kanghoo-auth")
	v.SetDefault("JWT_AUDIENCE", "kanghoo-realtime")
	v.SetDefault("JWT_EXPIRY_WARN_BUFFER", "5m")
	v.SetDefault("WS_ALLOWED_ORIGINS", "")
	v.SetDefault("WS_MAX_CONNECTIONS_PER_IP", 10)
	v.SetDefault("WS_MAX_MESSAGES_PER_WINDOW_IP", 100)
	v.SetDefault("WS_MAX_MESSAGES_PER_WINDOW_USER", 60)
	v.SetDefault("WS_RATE_WINDOW", "60s")
	v.SetDefault("WS_MAX_PAYLOAD_BYTES", 10240)
	v.SetDefault("WS_DUPLICATE_THRESHOLD", 3)
	v.SetDefault("WS_DUPLICATE_WINDOW", "5m")
	v.SetDefault("WS_MAX_VIOLATIONS", 5)
	v.SetDefault("WS_BLACKLIST_TTL", "1h")
	v.SetDefault("WS_SWEEP_INTERVAL", "60s")
	v.SetDefault("WS_HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("AUTH_USER_RATE_LIMIT", 30)
	v.SetDefault("AUTH_RATE_WINDOW", "60s")
	v.SetDefault("TRACKING_HISTORY_LIMIT", 1000)
	v.SetDefault("TRACKING_ETA_DELTA", "5m")
	v.SetDefault("TRACKING_MAX_SPEED_KMH", 80)
	v.SetDefault("TRACKING_MIN_SPEED_KMH", 5)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CACHE_SWEEP_INTERVAL", "60s")
	v.SetDefault("CACHE_FLUSH_BATCH", 50)
	v.SetDefault("ROUTING_BASE_URL", "")
	v.SetDefault("ROUTING_API_KEY", "")
	v.SetDefault("ROUTING_TIMEOUT", "10s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "kanghoo-telemetry")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.WSMaxConnectionsPerIP <= 0 {
		return nil, errors.New("config: WS_MAX_CONNECTIONS_PER_IP must be positive")
	}
	if cfg.WSMaxPayloadBytes <= 0 {
		return nil, errors.New("config: WS_MAX_PAYLOAD_BYTES must be positive")
	}
	if cfg.WSDuplicateThreshold <= 0 {
		return nil, errors.New("config: WS_DUPLICATE_THRESHOLD must be positive")
	}
	if cfg.WSMaxViolations <= 0 {
		return nil, errors.New("config: WS_MAX_VIOLATIONS must be positive")
	}
	if cfg.CacheFlushBatch <= 0 {
		return nil, errors.New("config: CACHE_FLUSH_BATCH must be positive")
	}
	if cfg.TrackingHistoryLimit <= 0 {
		return nil, errors.New("config: TRACKING_HISTORY_LIMIT must be positive")
	}

	return &cfg, nil
}

// AllowedOrigins returns WSAllowedOrigins split on commas, trimmed, with empties dropped.
// An empty result means open mode.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.WSAllowedOrigins)
}

// KafkaBrokerList returns KafkaBrokers split on commas, trimmed, with empties dropped.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// RateWindow parses WSRateWindow. Returns 60s if unset or invalid.
func (c *Config) RateWindow() time.Duration { return durationOr(c.WSRateWindow, 60*time.Second) }

// DuplicateWindow parses WSDuplicateWindow. Returns 5m if unset or invalid.
func (c *Config) DuplicateWindow() time.Duration {
	return durationOr(c.WSDuplicateWindow, 5*time.Minute)
}

// BlacklistTTL parses WSBlacklistTTL. Returns 1h if unset or invalid.
func (c *Config) BlacklistTTL() time.Duration { return durationOr(c.WSBlacklistTTL, time.Hour) }

// SweepInterval parses WSSweepInterval. Returns 60s if unset or invalid.
func (c *Config) SweepInterval() time.Duration { return durationOr(c.WSSweepInterval, 60*time.Second) }

// HeartbeatInterval parses WSHeartbeatInterval. Returns 30s if unset or invalid.
func (c *Config) HeartbeatInterval() time.Duration {
	return durationOr(c.WSHeartbeatInterval, 30*time.Second)
}

// AuthWindow parses AuthRateWindow. Returns 60s if unset or invalid.
func (c *Config) AuthWindow() time.Duration { return durationOr(c.AuthRateWindow, 60*time.Second) }

// ExpiryWarnBuffer parses JWTExpiryWarnBuffer. Returns 5m if unset or invalid.
func (c *Config) ExpiryWarnBuffer() time.Duration {
	return durationOr(c.JWTExpiryWarnBuffer, 5*time.Minute)
}

// ETADelta parses TrackingETADelta. Returns 5m if unset or invalid.
func (c *Config) ETADelta() time.Duration { return durationOr(c.TrackingETADelta, 5*time.Minute) }

// CacheTimeout parses CacheTTL. Returns 5m if unset or invalid.
func (c *Config) CacheTimeout() time.Duration { return durationOr(c.CacheTTL, 5*time.Minute) }

// CacheSweep parses CacheSweepInterval. Returns 60s if unset or invalid.
func (c *Config) CacheSweep() time.Duration { return durationOr(c.CacheSweepInterval, 60*time.Second) }

// RoutingRequestTimeout parses RoutingTimeout. Returns 10s if unset or invalid.
func (c *Config) RoutingRequestTimeout() time.Duration {
	return durationOr(c.RoutingTimeout, 10*time.Second)
}
