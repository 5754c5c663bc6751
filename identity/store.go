package identity

import (
	"context"
	"time"
)

// PasswordSentinel is the stored password hash for identities bootstrapped
// through a federated sign-in. It is not a valid PHC string, so password
// verification can never succeed against it.
const PasswordSentinel = "0"

// User is the canonical security principal.
// IMPORTANT: RefreshTokens holds server-side hashes; plain tokens are never stored.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	ImageURL     *string

	RefreshTokens []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a new identity.
// PasswordHash is either a PHC argon2id string or PasswordSentinel; hashing
// happens at the caller so the store never sees a plain password.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	ImageURL     *string
	Now          time.Time
}

// UpdateProfileInput mutates email and/or password hash of an existing user.
// Nil fields are left unchanged; at least one must be set.
type UpdateProfileInput struct {
	UserID       string
	Email        *string
	PasswordHash *string
	Now          time.Time
}

// Store is the identity persistence boundary.
//
// Registry contract:
//   - AddRefreshToken appends a token hash (issuance).
//   - RotateRefreshToken atomically replaces oldHash with newHash iff oldHash
//     is present; ErrNotActive on a miss (reuse signal, no window where
//     neither or both outcomes are visible).
//   - RemoveRefreshToken removes exactly one hash; ErrNotActive on a miss.
//   - ClearRefreshTokens empties the registry (revoke-all; idempotent).
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error)

	AddRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error
	RotateRefreshToken(ctx context.Context, userID, oldHash, newHash string, now time.Time) error
	RemoveRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error
	ClearRefreshTokens(ctx context.Context, userID string, now time.Time) error
}
