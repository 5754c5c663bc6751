// Package google verifies Google ID-token assertions for federated sign-in.
//
// The caller hands over the credential the Google client library produced in
// the browser; we validate it against our OAuth client id via OIDC discovery
// and return the verified profile claims. Account lookup/creation happens in
// the API layer.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// DefaultIssuerURL is Google's OIDC issuer.
const DefaultIssuerURL = "https://accounts.google.com"

// ErrConfig indicates missing or invalid verifier configuration.
var ErrConfig = errors.New("invalid google verifier config")

// Profile carries the verified claims the auth flow needs.
type Profile struct {
	Email   string
	Picture string
}

// Verifier validates a Google ID-token assertion.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Profile, error)
}

// Config for the OIDC verifier.
type Config struct {
	// ClientID is the OAuth client id the assertion must be issued for.
	ClientID string

	// IssuerURL overrides the discovery issuer (tests point it at a fake).
	IssuerURL string
}

// LoadConfigFromEnv reads PLUME_GOOGLE_CLIENT_ID and PLUME_GOOGLE_ISSUER_URL.
// An empty client id is not an error here: the app treats it as
// "federated sign-in disabled" and wires a disabled verifier instead.
func LoadConfigFromEnv() Config {
	cfg := Config{
		ClientID:  strings.TrimSpace(os.Getenv("PLUME_GOOGLE_CLIENT_ID")),
		IssuerURL: strings.TrimSpace(os.Getenv("PLUME_GOOGLE_ISSUER_URL")),
	}
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = DefaultIssuerURL
	}
	return cfg
}

// OIDCVerifier verifies ID tokens via OIDC discovery.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds an audience-bound verifier.
func NewOIDCVerifier(ctx context.Context, cfg Config) (*OIDCVerifier, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrConfig
	}
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = DefaultIssuerURL
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("google: discover issuer: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Verify validates the assertion (signature, issuer, audience, expiry) and
// extracts the profile claims. A token without an email claim is rejected:
// email is our account key.
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (Profile, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Profile{}, fmt.Errorf("google: empty credential")
	}

	idToken, err := v.verifier.Verify(ctx, credential)
	if err != nil {
		return Profile{}, fmt.Errorf("google: verify id token: %w", err)
	}

	var claims struct {
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, fmt.Errorf("google: parse claims: %w", err)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return Profile{}, fmt.Errorf("google: missing email claim")
	}

	return Profile{Email: claims.Email, Picture: claims.Picture}, nil
}

// Disabled is a Verifier for deployments without a Google client id.
// Every call fails, which the API maps to a client error.
type Disabled struct{}

func (Disabled) Verify(context.Context, string) (Profile, error) {
	return Profile{}, fmt.Errorf("google: sign-in not configured")
}
