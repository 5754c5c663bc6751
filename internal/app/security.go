package app

import (
	"fmt"

	"plume/security/token"
)

// ValidateSecurityConfig enforces deploy-time security policy before the app starts.
//
// English design notes:
// - Refresh tokens are stored server-side only as hashes.
// - With PLUME_REQUIRE_TOKEN_HMAC=true, plain SHA-256 fallback hashing is refused:
//   PLUME_TOKEN_HMAC_KEY must be present and at least 32 bytes.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(32); err != nil {
		return fmt.Errorf("PLUME_REQUIRE_TOKEN_HMAC=true: %w", err)
	}
	return nil
}
