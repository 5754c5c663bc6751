package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"plume/identity/ids"
)

// Claims is the claim set shared by access and refresh tokens.
// UserID rides in "uid"; refresh tokens additionally set a random "jti" so
// two tokens minted for the same user in the same second still differ.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 tokens per Config.
// Managers are immutable after construction and safe for concurrent use.
type Manager struct {
	cfg Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// IssueAccess mints an access token for userID and returns it with its expiry.
func (m *Manager) IssueAccess(userID string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresAt := now.Add(m.cfg.AccessTokenTTL)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// IssueRefresh mints a refresh token for userID.
// No "exp" claim is set: refresh validity is governed by the registry, and
// revocation/rotation are the only ways a refresh token dies.
func (m *Manager) IssueRefresh(userID string, now time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   m.cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       jti,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.RefreshSecret)
}

// VerifyAccess verifies an access token: signature, issuer, and expiry.
// Any failure maps to ErrInvalidToken.
func (m *Manager) VerifyAccess(tokenStr string, now time.Time) (Claims, error) {
	return m.verify(tokenStr, now, m.cfg.AccessSecret, true)
}

// VerifyRefresh verifies a refresh token's signature and issuer only.
// Whether the token is still redeemable is the registry's call, not ours.
func (m *Manager) VerifyRefresh(tokenStr string, now time.Time) (Claims, error) {
	return m.verify(tokenStr, now, m.cfg.RefreshSecret, false)
}

func (m *Manager) verify(tokenStr string, now time.Time, secret []byte, requireExpiry bool) (Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Claims{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if requireExpiry {
		options = append(options, jwt.WithExpirationRequired())
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
		return Claims{}, ErrInvalidToken
	}

	return *claims, nil
}
