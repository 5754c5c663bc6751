// Package authapi wires the HTTP auth endpoints to identity, token, and
// verifier services: registration, password login, Google sign-in, refresh
// rotation, logout, and profile edits.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"plume/identity"
	"plume/internal/auth/google"
	"plume/internal/auth/session"
	"plume/internal/metrics"
	"plume/security/password"
	"plume/security/token"
)

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	store     identity.Store
	tokens    *session.Manager
	passwords password.Config
	verifier  google.Verifier

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithIdentityVerifier overrides the default disabled Google verifier.
func WithIdentityVerifier(v google.Verifier) HandlerOption {
	return func(h *Handler) {
		if h == nil || v == nil {
			return
		}
		h.verifier = v
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, store identity.Store, tokens *session.Manager, passwords password.Config, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token manager")
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		verifier:  google.Disabled{},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/google", h.handleGoogle)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/edit", h.handleEdit)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "password not accepted")
		return
	}

	var imgURL *string
	if v := strings.TrimSpace(req.ImgURL); v != "" {
		imgURL = &v
	}

	user, err := h.store.CreateUser(ctx, identity.CreateUserInput{
		Email:        email,
		PasswordHash: hash,
		ImageURL:     imgURL,
		Now:          now,
	})
	if err != nil {
		metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusNotAcceptable, "email_exists", "email already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration data")
		default:
			h.log.Error("auth.register.create_user.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	access, refresh, err := h.issueTokens(ctx, user.ID, now)
	if err != nil {
		metrics.Registrations.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.register.issue_tokens.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.Registrations.WithLabelValues(metrics.ResultSuccess).Inc()
	writeJSON(w, http.StatusCreated, toIdentityResponse(user, access, refresh))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	user, err := h.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: perform a dummy verify when user is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		}
		metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password incorrect")
		return
	}

	// The federated "0" sentinel is not a valid hash: Verify errors, and the
	// caller sees the same uniform failure as a wrong password.
	okPw, err := h.passwords.Verify(user.PasswordHash, req.Password)
	if err != nil || !okPw {
		metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password incorrect")
		return
	}

	access, refresh, err := h.issueTokens(ctx, user.ID, now)
	if err != nil {
		metrics.Logins.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.login.issue_tokens.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.Logins.WithLabelValues(metrics.ResultSuccess).Inc()
	writeJSON(w, http.StatusOK, tokensResponse{AccessToken: access, RefreshToken: refresh})
}

func (h *Handler) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req googleRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Credential) == "" {
		metrics.GoogleSignins.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "credential is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	profile, err := h.verifier.Verify(ctx, req.Credential)
	if err != nil {
		metrics.GoogleSignins.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_google_credential", "google credential rejected")
		return
	}

	user, err := h.lookupOrBootstrapGoogleUser(ctx, profile, now)
	if err != nil {
		metrics.GoogleSignins.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.google.bootstrap.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	access, refresh, err := h.issueTokens(ctx, user.ID, now)
	if err != nil {
		metrics.GoogleSignins.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.google.issue_tokens.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.GoogleSignins.WithLabelValues(metrics.ResultSuccess).Inc()
	writeJSON(w, http.StatusOK, toIdentityResponse(user, access, refresh))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	user, oldHash, ok := h.redeemRefresh(ctx, w, r, now, "refresh")
	if !ok {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		return
	}

	access, _, err := h.tokens.IssueAccess(user.ID, now)
	if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.refresh.issue_access.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	newRefresh, err := h.tokens.IssueRefresh(user.ID, now)
	if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		h.log.Error("auth.refresh.issue_refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	err = h.store.RotateRefreshToken(ctx, user.ID, oldHash, token.HashRefreshTokenHex(newRefresh), now)
	if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		if identity.IsNotActive(err) {
			h.revokeAllOnReuse(ctx, user.ID, now, "refresh")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.refresh.rotate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.Refreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	// The stale token is gone from the registry; only the rotated one goes out.
	writeJSON(w, http.StatusOK, tokensResponse{AccessToken: access, RefreshToken: newRefresh})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	user, hash, ok := h.redeemRefresh(ctx, w, r, now, "logout")
	if !ok {
		metrics.Logouts.WithLabelValues(metrics.ResultFailure).Inc()
		return
	}

	if err := h.store.RemoveRefreshToken(ctx, user.ID, hash, now); err != nil {
		metrics.Logouts.WithLabelValues(metrics.ResultFailure).Inc()
		if identity.IsNotActive(err) {
			h.revokeAllOnReuse(ctx, user.ID, now, "logout")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.logout.remove.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metrics.Logouts.WithLabelValues(metrics.ResultSuccess).Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	accessToken := bearerToken(r)
	if accessToken == "" {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	claims, err := h.tokens.VerifyAccess(accessToken, now)
	if err != nil {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}

	if _, err := h.store.GetUserByID(ctx, claims.UserID); err != nil {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		if identity.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("auth.edit.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	var req editRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	in := identity.UpdateProfileInput{UserID: claims.UserID, Now: now}
	if v := strings.TrimSpace(req.Email); v != "" {
		in.Email = &v
	}
	if req.Password != "" {
		hash, err := h.passwords.Hash(req.Password)
		if err != nil {
			metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
			writeError(w, http.StatusBadRequest, "invalid_request", "password not accepted")
			return
		}
		in.PasswordHash = &hash
	}
	if in.Email == nil && in.PasswordHash == nil {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "email or password is required")
		return
	}

	user, err := h.store.UpdateProfile(ctx, in)
	if err != nil {
		metrics.ProfileEdits.WithLabelValues(metrics.ResultFailure).Inc()
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already taken")
		case identity.IsNotFound(err):
			writeError(w, http.StatusNotFound, "not_found", "user not found")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid profile data")
		default:
			h.log.Error("auth.edit.update.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	metrics.ProfileEdits.WithLabelValues(metrics.ResultSuccess).Inc()
	writeJSON(w, http.StatusOK, toProfileResponse(user))
}

// ---- shared flows ----

// lookupOrBootstrapGoogleUser resolves the verified email to an identity,
// creating one with the password sentinel on first sign-in. A create/create
// race resolves by re-reading the winner's row.
func (h *Handler) lookupOrBootstrapGoogleUser(ctx context.Context, profile google.Profile, now time.Time) (identity.User, error) {
	user, err := h.store.GetUserByEmail(ctx, profile.Email)
	if err == nil {
		return user, nil
	}
	if !identity.IsNotFound(err) {
		return identity.User{}, err
	}

	var imgURL *string
	if v := strings.TrimSpace(profile.Picture); v != "" {
		imgURL = &v
	}

	user, err = h.store.CreateUser(ctx, identity.CreateUserInput{
		Email:        profile.Email,
		PasswordHash: identity.PasswordSentinel,
		ImageURL:     imgURL,
		Now:          now,
	})
	if err == nil {
		return user, nil
	}
	if identity.IsConflict(err) {
		return h.store.GetUserByEmail(ctx, profile.Email)
	}
	return identity.User{}, err
}

// issueTokens mints an access/refresh pair and registers the refresh hash.
// No tokens are reported unless the registry write succeeded.
func (h *Handler) issueTokens(ctx context.Context, userID string, now time.Time) (string, string, error) {
	access, _, err := h.tokens.IssueAccess(userID, now)
	if err != nil {
		return "", "", err
	}
	refresh, err := h.tokens.IssueRefresh(userID, now)
	if err != nil {
		return "", "", err
	}
	if err := h.store.AddRefreshToken(ctx, userID, token.HashRefreshTokenHex(refresh), now); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// redeemRefresh extracts and verifies the bearer refresh token and resolves
// its user. All failures are a uniform 401; the caller owns the registry
// mutation that decides whether the token is actually redeemable.
func (h *Handler) redeemRefresh(ctx context.Context, w http.ResponseWriter, r *http.Request, now time.Time, flow string) (identity.User, string, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return identity.User{}, "", false
	}

	claims, err := h.tokens.VerifyRefresh(raw, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return identity.User{}, "", false
	}

	user, err := h.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return identity.User{}, "", false
		}
		h.log.Error("auth."+flow+".lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return identity.User{}, "", false
	}

	return user, token.HashRefreshTokenHex(raw), true
}

// revokeAllOnReuse clears the registry after a well-signed token missed it.
// A token we minted that is no longer registered means it was already
// redeemed or revoked; treat every outstanding session as compromised.
func (h *Handler) revokeAllOnReuse(ctx context.Context, userID string, now time.Time, flow string) {
	metrics.RefreshReuse.Inc()
	h.log.Warn("auth."+flow+".reuse_detected", "user_id", userID)
	if err := h.store.ClearRefreshTokens(ctx, userID, now); err != nil {
		h.log.Error("auth."+flow+".revoke_all.fail", "err", err)
	}
}
