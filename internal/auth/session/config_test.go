package session

import (
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("PLUME_JWT_ACCESS_SECRET", "")
	t.Setenv("PLUME_JWT_REFRESH_SECRET", "")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("PLUME_JWT_ACCESS_SECRET", "too-short")
	t.Setenv("PLUME_JWT_REFRESH_SECRET", testRefreshSecret)
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_EqualSecrets(t *testing.T) {
	t.Setenv("PLUME_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("PLUME_JWT_REFRESH_SECRET", testAccessSecret)
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig on equal secrets, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("PLUME_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("PLUME_JWT_REFRESH_SECRET", testRefreshSecret)
	t.Setenv("PLUME_AUTH_ACCESS_TTL", "-5m")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("PLUME_JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("PLUME_JWT_REFRESH_SECRET", testRefreshSecret)
	t.Setenv("PLUME_AUTH_ISSUER", "plume-test")
	t.Setenv("PLUME_AUTH_ACCESS_TTL", "10m")
	t.Setenv("PLUME_AUTH_CLOCK_SKEW", "20s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Issuer != "plume-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}
	if !strings.HasPrefix(string(cfg.AccessSecret), "test-access") {
		t.Fatalf("access secret not loaded")
	}
}
