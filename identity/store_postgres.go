package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// English design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Registry mutations are single conditional UPDATEs guarded by array membership,
//   so concurrent rotations/removals for the same user serialize at the row and
//   exactly one caller wins; losers observe ErrNotActive.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "plume").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "plume",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = "id, email, password_hash, image_url, refresh_tokens, created_at, updated_at"

// CreateUser inserts a new user row with an empty refresh-token registry.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return User{}, pgInvalid(op, "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, pgInvalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	userID, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, email, password_hash, image_url, refresh_tokens, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, '{}', $5, $5)`,
		userID,
		email,
		in.PasswordHash,
		pgTrimPtr(in.ImageURL),
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:            userID,
		Email:         email,
		PasswordHash:  in.PasswordHash,
		ImageURL:      pgTrimPtr(in.ImageURL),
		RefreshTokens: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetUserByEmail finds a user by the stored (case-sensitive) email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return User{}, pgInvalid(op, "missing email")
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE email = $1`,
		email,
	)
	return scanUser(row, op, "user")
}

// GetUserByID finds a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, pgInvalid(op, "missing id")
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1`,
		id,
	)
	return scanUser(row, op, "user")
}

// UpdateProfile updates email and/or password hash for an existing user.
// Returns ErrNotFound if the user does not exist and ConflictError if the new
// email collides with a different user.
func (s *PostgresStore) UpdateProfile(ctx context.Context, in UpdateProfileInput) (User, error) {
	const op = "identity.UpdateProfile"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return User{}, pgInvalid(op, "missing user_id")
	}

	email := pgTrimPtr(in.Email)
	hash := in.PasswordHash
	if email == nil && hash == nil {
		return User{}, pgInvalid(op, "nothing to update")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET email = COALESCE($2, email),
		        password_hash = COALESCE($3, password_hash),
		        updated_at = $4
		  WHERE id = $1
		  RETURNING `+userColumns,
		in.UserID, email, hash, now,
	)

	out, err := scanUser(row, op, "user")
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return out, nil
}

// AddRefreshToken appends a refresh-token hash to the user's registry.
func (s *PostgresStore) AddRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	const op = "identity.AddRefreshToken"

	if err := s.checkRegistryArgs(ctx, op, userID, tokenHash); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_tokens = array_append(refresh_tokens, $2),
		        updated_at = $3
		  WHERE id = $1`,
		userID, tokenHash, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// RotateRefreshToken replaces oldHash with newHash in one statement.
// Returns ErrNotActive when oldHash is not in the registry (reuse signal) or
// when a concurrent rotation already won.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, userID, oldHash, newHash string, now time.Time) error {
	const op = "identity.RotateRefreshToken"

	if err := s.checkRegistryArgs(ctx, op, userID, oldHash); err != nil {
		return err
	}
	if strings.TrimSpace(newHash) == "" {
		return pgInvalid(op, "missing new token hash")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	// The membership guard makes the remove+append atomic: a concurrent
	// rotation of the same token sees zero rows and reports ErrNotActive.
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_tokens = array_append(array_remove(refresh_tokens, $2), $3),
		        updated_at = $4
		  WHERE id = $1
		    AND $2 = ANY(refresh_tokens)`,
		userID, oldHash, newHash, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notActiveToken(op)
	}
	return nil
}

// RemoveRefreshToken removes a single token hash from the registry.
// Returns ErrNotActive when the hash is not present.
func (s *PostgresStore) RemoveRefreshToken(ctx context.Context, userID, tokenHash string, now time.Time) error {
	const op = "identity.RemoveRefreshToken"

	if err := s.checkRegistryArgs(ctx, op, userID, tokenHash); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_tokens = array_remove(refresh_tokens, $2),
		        updated_at = $3
		  WHERE id = $1
		    AND $2 = ANY(refresh_tokens)`,
		userID, tokenHash, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notActiveToken(op)
	}
	return nil
}

// ClearRefreshTokens revokes every session of a user (idempotent).
func (s *PostgresStore) ClearRefreshTokens(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.ClearRefreshTokens"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	_, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_tokens = '{}',
		        updated_at = $2
		  WHERE id = $1`,
		userID, now,
	)
	return err
}

func (s *PostgresStore) checkRegistryArgs(ctx context.Context, op, userID, tokenHash string) error {
	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}
	if strings.TrimSpace(tokenHash) == "" {
		return pgInvalid(op, "missing token hash")
	}
	return nil
}

// ---- helpers ----

func scanUser(row pgx.Row, op, resource string) (User, error) {
	var out User
	err := row.Scan(
		&out.ID,
		&out.Email,
		&out.PasswordHash,
		&out.ImageURL,
		&out.RefreshTokens,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: resource}
		}
		return User{}, err
	}
	return out, nil
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// English comment:
	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_email":
		return "email", true
	default:
		if strings.Contains(c, "email") {
			return "email", true
		}
		return "unique", true
	}
}
