package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("PLUME_DATABASE_URL"))
	if dsn == "" {
		t.Skip("integration test skipped: PLUME_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func uniqueEmail(t *testing.T) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return fmt.Sprintf("it-%s@example.com", strings.ToLower(id))
}

func TestPostgresStore_UserLifecycle(t *testing.T) {
	pool := mustOpenTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC()

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	email := uniqueEmail(t)

	created, err := st.CreateUser(ctx, CreateUserInput{Email: email, PasswordHash: "hash-1", Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := st.CreateUser(ctx, CreateUserInput{Email: email, PasswordHash: "hash-2", Now: now}); !IsConflict(err) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	byEmail, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("id mismatch: %q vs %q", byEmail.ID, created.ID)
	}

	if _, err := st.GetUserByID(ctx, created.ID); err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if _, err := st.GetUserByEmail(ctx, "missing-"+email); !IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}

	renamed := uniqueEmail(t)
	updated, err := st.UpdateProfile(ctx, UpdateProfileInput{UserID: created.ID, Email: &renamed, Now: now})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != renamed {
		t.Fatalf("email not updated: %q", updated.Email)
	}
}

func TestPostgresStore_RegistryLifecycle(t *testing.T) {
	pool := mustOpenTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC()

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	u, err := st.CreateUser(ctx, CreateUserInput{Email: uniqueEmail(t), PasswordHash: "hash", Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h1 := strings.Repeat("a", 64)
	h2 := strings.Repeat("b", 64)
	h3 := strings.Repeat("c", 64)

	if err := st.AddRefreshToken(ctx, u.ID, h1, now); err != nil {
		t.Fatalf("add h1: %v", err)
	}
	if err := st.AddRefreshToken(ctx, u.ID, h2, now); err != nil {
		t.Fatalf("add h2: %v", err)
	}

	if err := st.RotateRefreshToken(ctx, u.ID, h1, h3, now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := st.RotateRefreshToken(ctx, u.ID, h1, h3, now); !IsNotActive(err) {
		t.Fatalf("expected not_active for stale hash, got %v", err)
	}

	if err := st.RemoveRefreshToken(ctx, u.ID, h2, now); err != nil {
		t.Fatalf("remove h2: %v", err)
	}
	if err := st.RemoveRefreshToken(ctx, u.ID, h2, now); !IsNotActive(err) {
		t.Fatalf("expected not_active for removed hash, got %v", err)
	}

	if err := st.ClearRefreshTokens(ctx, u.ID, now); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, err := st.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.RefreshTokens) != 0 {
		t.Fatalf("registry not cleared: %v", got.RefreshTokens)
	}
}
