package token

import "testing"

func TestHashRefreshTokenHex_SHAFallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := HashRefreshTokenHex("abc")
	want := HashSHA256Hex("abc")
	if got != want {
		t.Fatalf("expected SHA-256 fallback, got %q want %q", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64-char hex, got %d", len(got))
	}
}

func TestHashRefreshTokenHex_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	got := HashRefreshTokenHex("abc")
	if got == HashSHA256Hex("abc") {
		t.Fatalf("expected HMAC digest, got plain SHA-256")
	}
	if len(got) != 64 {
		t.Fatalf("expected 64-char hex, got %d", len(got))
	}
}

func TestHMACKeyFromEnv_Policy(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length mismatch: %d", len(key))
	}
}
