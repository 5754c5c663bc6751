package identity

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for DB-less development mode and tests.
// It mirrors the PostgresStore contract, including the atomicity of registry
// mutations (a single mutex stands in for the conditional UPDATE).
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := &User{
		ID:            userID,
		Email:         email,
		PasswordHash:  in.PasswordHash,
		ImageURL:      pgTrimPtr(in.ImageURL),
		RefreshTokens: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.byID[userID] = u
	s.byEmail[email] = userID

	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing email"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user_id"}
	}

	email := pgTrimPtr(in.Email)
	if email == nil && in.PasswordHash == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nothing to update"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[in.UserID]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	if email != nil && *email != u.Email {
		if owner, exists := s.byEmail[*email]; exists && owner != u.ID {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		delete(s.byEmail, u.Email)
		u.Email = *email
		s.byEmail[u.Email] = u.ID
	}
	if in.PasswordHash != nil {
		u.PasswordHash = *in.PasswordHash
	}
	u.UpdatedAt = now

	return cloneUser(u), nil
}

func (s *MemoryStore) AddRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	const op = "identity.AddRefreshToken"

	if err := registryArgsOK(ctx, op, userID, tokenHash); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.RefreshTokens = append(u.RefreshTokens, tokenHash)
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RotateRefreshToken(ctx context.Context, userID, oldHash, newHash string, now time.Time) error {
	const op = "identity.RotateRefreshToken"

	if err := registryArgsOK(ctx, op, userID, oldHash); err != nil {
		return err
	}
	if strings.TrimSpace(newHash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing new token hash"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return notActiveToken(op)
	}
	i := indexOfHash(u.RefreshTokens, oldHash)
	if i < 0 {
		return notActiveToken(op)
	}
	u.RefreshTokens[i] = newHash
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RemoveRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	const op = "identity.RemoveRefreshToken"

	if err := registryArgsOK(ctx, op, userID, tokenHash); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return notActiveToken(op)
	}
	i := indexOfHash(u.RefreshTokens, tokenHash)
	if i < 0 {
		return notActiveToken(op)
	}
	u.RefreshTokens = slices.Delete(u.RefreshTokens, i, i+1)
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ClearRefreshTokens(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.ClearRefreshTokens"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user_id"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return nil
	}
	u.RefreshTokens = u.RefreshTokens[:0]
	u.UpdatedAt = now
	return nil
}

func registryArgsOK(ctx context.Context, op, userID, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user_id"}
	}
	if strings.TrimSpace(tokenHash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing token hash"}
	}
	return nil
}

// indexOfHash scans with a constant-time comparison per element.
// English comment:
// - Hashes are expected to be 64-char hex (SHA-256 / HMAC-SHA256).
// - Enforce fixed-length comparison to avoid length-based side channels.
func indexOfHash(hashes []string, want string) int {
	for i, h := range hashes {
		if ctEqHex64(h, want) {
			return i
		}
	}
	return -1
}

func ctEqHex64(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func cloneUser(u *User) User {
	out := *u
	out.RefreshTokens = slices.Clone(u.RefreshTokens)
	return out
}
