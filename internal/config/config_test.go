package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "kanghoo-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "kanghoo-auth")
	}
	if cfg.JWTAudience != "kanghoo-realtime" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "kanghoo-realtime")
	}
	if cfg.WSMaxConnectionsPerIP != 10 {
		t.Errorf("WSMaxConnectionsPerIP = %d, want 10", cfg.WSMaxConnectionsPerIP)
	}
	if cfg.WSMaxPayloadBytes != 10240 {
		t.Errorf("WSMaxPayloadBytes = %d, want 10240", cfg.WSMaxPayloadBytes)
	}
	if cfg.WSDuplicateThreshold != 3 {
		t.Errorf("WSDuplicateThreshold = %d, want 3", cfg.WSDuplicateThreshold)
	}
	if cfg.WSMaxViolations != 5 {
		t.Errorf("WSMaxViolations = %d, want 5", cfg.WSMaxViolations)
	}
	if cfg.CacheFlushBatch != 50 {
		t.Errorf("CacheFlushBatch = %d, want 50", cfg.CacheFlushBatch)
	}
	if cfg.TrackingHistoryLimit != 1000 {
		t.Errorf("TrackingHistoryLimit = %d, want 1000", cfg.TrackingHistoryLimit)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("WS_MAX_CONNECTIONS_PER_IP", "3")
	os.Setenv("WS_RATE_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	if cfg.WSMaxConnectionsPerIP != 3 {
		t.Errorf("WSMaxConnectionsPerIP = %d, want 3", cfg.WSMaxConnectionsPerIP)
	}
	if got := cfg.RateWindow(); got != 30*time.Second {
		t.Errorf("RateWindow() = %v, want 30s", got)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("WS_MAX_PAYLOAD_BYTES", "0")

	if _, err := Load(); err == nil {
		t.Error("Load should fail when WS_MAX_PAYLOAD_BYTES is zero")
	}
}

func TestDurationHelpers_Fallbacks(t *testing.T) {
	cfg := &Config{}
	if got := cfg.RateWindow(); got != 60*time.Second {
		t.Errorf("RateWindow() = %v, want 60s fallback", got)
	}
	if got := cfg.DuplicateWindow(); got != 5*time.Minute {
		t.Errorf("DuplicateWindow() = %v, want 5m fallback", got)
	}
	if got := cfg.BlacklistTTL(); got != time.Hour {
		t.Errorf("BlacklistTTL() = %v, want 1h fallback", got)
	}
	if got := cfg.HeartbeatInterval(); got != 30*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 30s fallback", got)
	}
	if got := cfg.CacheTimeout(); got != 5*time.Minute {
		t.Errorf("CacheTimeout() = %v, want 5m fallback", got)
	}
	cfg.WSBlacklistTTL = "not-a-duration"
	if got := cfg.BlacklistTTL(); got != time.Hour {
		t.Errorf("BlacklistTTL() with garbage = %v, want 1h fallback", got)
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{WSAllowedOrigins: ""}
	if got := cfg.AllowedOrigins(); got != nil {
		t.Errorf("AllowedOrigins() = %v, want nil for open mode", got)
	}
	cfg.WSAllowedOrigins = "https://app.kanghoo.com.br, https://admin.kanghoo.com.br ,"
	got := cfg.AllowedOrigins()
	if len(got) != 2 {
		t.Fatalf("AllowedOrigins() len = %d, want 2", len(got))
	}
	if got[0] != "https://app.kanghoo.com.br" {
		t.Errorf("AllowedOrigins()[0] = %q", got[0])
	}
	if got[1] != "https://admin.kanghoo.com.br" {
		t.Errorf("AllowedOrigins()[1] = %q", got[1])
	}
}
