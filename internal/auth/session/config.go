package session

import (
	"crypto/subtle"
	"os"
	"time"
)

const minSecretBytes = 32

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, clock skew tolerance, and the two HS256
// signing secrets. The secrets MUST differ so an access token can never be
// replayed as a refresh token or vice versa.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	// Refresh tokens carry no expiry; the registry governs their validity.
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret signs and verifies access tokens.
	AccessSecret []byte

	// RefreshSecret signs and verifies refresh tokens.
	RefreshSecret []byte
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
// Secrets have no default and must always be provided.
func DefaultConfig() Config {
	return Config{
		Issuer:         "plume",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (min 32 bytes each, must differ):
//   - PLUME_JWT_ACCESS_SECRET
//   - PLUME_JWT_REFRESH_SECRET
//
// Optional (durations must be valid Go duration strings):
//   - PLUME_AUTH_ISSUER
//   - PLUME_AUTH_ACCESS_TTL
//   - PLUME_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PLUME_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PLUME_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("PLUME_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = []byte(os.Getenv("PLUME_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("PLUME_JWT_REFRESH_SECRET"))

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.AccessTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if len(c.AccessSecret) < minSecretBytes || len(c.RefreshSecret) < minSecretBytes {
		return ErrConfig
	}
	// Same-length secrets with equal bytes are the dangerous case.
	if len(c.AccessSecret) == len(c.RefreshSecret) &&
		subtle.ConstantTimeCompare(c.AccessSecret, c.RefreshSecret) == 1 {
		return ErrConfig
	}
	return nil
}
