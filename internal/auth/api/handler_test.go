package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"plume/identity"
	"plume/internal/auth/google"
	"plume/internal/auth/session"
	"plume/security/password"
)

type fakeVerifier struct {
	profile google.Profile
	err     error
}

func (f fakeVerifier) Verify(ctx context.Context, credential string) (google.Profile, error) {
	if f.err != nil {
		return google.Profile{}, f.err
	}
	return f.profile, nil
}

type testAPI struct {
	mux    *http.ServeMux
	store  *identity.MemoryStore
	tokens *session.Manager
}

func newTestAPI(t *testing.T, opts ...HandlerOption) testAPI {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = []byte("test-access-secret-0123456789abcdef")
	sessCfg.RefreshSecret = []byte("test-refresh-secret-0123456789abcdef")

	tokens, err := session.NewManager(sessCfg)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	// Small argon2 params keep the suite fast; the contract is unchanged.
	pwCfg := password.DefaultConfig()
	pwCfg.Params.MemoryKiB = 8 * 1024
	pwCfg.Params.Iterations = 1

	store := identity.NewMemoryStore()

	h, err := NewHandler(testLogger(), store, tokens, pwCfg, LoadConfigFromEnv(), opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	return testAPI{mux: mux, store: store, tokens: tokens}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (a testAPI) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (a testAPI) register(t *testing.T, email, pw string) identityResponse {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/auth/register", map[string]string{"email": email, "password": pw}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return decodeBody[identityResponse](t, rec)
}

func (a testAPI) login(t *testing.T, email, pw string) tokensResponse {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": pw}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return decodeBody[tokensResponse](t, rec)
}

func TestRegister_LoginRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	reg := a.register(t, "alice@example.com", "pw1")
	if reg.ID == "" || reg.Email != "alice@example.com" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" {
		t.Fatalf("missing tokens in register response")
	}

	toks := a.login(t, "alice@example.com", "pw1")

	claims, err := a.tokens.VerifyAccess(toks.AccessToken, time.Now().UTC())
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.UserID != reg.ID {
		t.Fatalf("uid mismatch: %q vs %q", claims.UserID, reg.ID)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@example.com"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/auth/register", map[string]string{"password": "pw1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", rec.Code)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a := newTestAPI(t)

	first := a.register(t, "alice@example.com", "pw1")

	rec := a.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "alice@example.com", "password": "other"}, "")
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("expected 406, got %d body %s", rec.Code, rec.Body.String())
	}

	// The original record is untouched: old password still logs in.
	a.login(t, "alice@example.com", "pw1")

	got, err := a.store.GetUserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("record replaced: %q vs %q", got.ID, first.ID)
	}
}

func TestLogin_UniformFailures(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "alice@example.com", "pw1")

	rec := a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "nobody@example.com", "password": "pw1"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown email: expected 401, got %d", rec.Code)
	}
	unknown := decodeBody[errorResponse](t, rec)

	rec = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", rec.Code)
	}
	wrongPw := decodeBody[errorResponse](t, rec)

	// Same code and message either way; no account enumeration.
	if unknown.Error != wrongPw.Error {
		t.Fatalf("failure responses differ: %+v vs %+v", unknown.Error, wrongPw.Error)
	}

	rec = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password: expected 400, got %d", rec.Code)
	}
}

func TestGoogle_BootstrapAndReuse(t *testing.T) {
	a := newTestAPI(t, WithIdentityVerifier(fakeVerifier{
		profile: google.Profile{Email: "gal@example.com", Picture: "https://img.example.com/p.png"},
	}))

	rec := a.do(t, http.MethodPost, "/auth/google", map[string]string{"credential": "assertion"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("google signin: status %d body %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[identityResponse](t, rec)
	if first.Email != "gal@example.com" || first.ID == "" {
		t.Fatalf("unexpected response: %+v", first)
	}
	if first.ImgURL == nil || *first.ImgURL != "https://img.example.com/p.png" {
		t.Fatalf("picture not stored: %+v", first.ImgURL)
	}

	// Second sign-in resolves the same identity instead of creating one.
	rec = a.do(t, http.MethodPost, "/auth/google", map[string]string{"credential": "assertion"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("google signin again: status %d", rec.Code)
	}
	second := decodeBody[identityResponse](t, rec)
	if second.ID != first.ID {
		t.Fatalf("duplicate identity created: %q vs %q", second.ID, first.ID)
	}

	// The bootstrapped account has the "0" sentinel: no password ever works.
	for _, pw := range []string{"0", "", "password"} {
		rec = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "gal@example.com", "password": pw}, "")
		if rec.Code != http.StatusUnauthorized && rec.Code != http.StatusBadRequest {
			t.Fatalf("password login on federated account must fail, got %d for %q", rec.Code, pw)
		}
	}
}

func TestGoogle_Failures(t *testing.T) {
	a := newTestAPI(t, WithIdentityVerifier(fakeVerifier{err: errors.New("bad assertion")}))

	rec := a.do(t, http.MethodPost, "/auth/google", map[string]string{"credential": "garbage"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("rejected credential: expected 400, got %d", rec.Code)
	}

	rec = a.do(t, http.MethodPost, "/auth/google", map[string]string{"credential": ""}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing credential: expected 400, got %d", rec.Code)
	}

	// Verifier not configured at all behaves like a rejected credential.
	disabled := newTestAPI(t)
	rec = disabled.do(t, http.MethodPost, "/auth/google", map[string]string{"credential": "assertion"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("disabled verifier: expected 400, got %d", rec.Code)
	}
}

func TestRefresh_RotatesAndReturnsNewToken(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "alice@example.com", "pw1")
	toks := a.login(t, "alice@example.com", "pw1")

	rec := a.do(t, http.MethodGet, "/auth/refresh", nil, toks.RefreshToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	rotated := decodeBody[tokensResponse](t, rec)
	if rotated.RefreshToken == "" || rotated.RefreshToken == toks.RefreshToken {
		t.Fatalf("refresh must return the rotated token, not the stale one")
	}

	// The rotated token redeems; the stale one is dead.
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, rotated.RefreshToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotated token refresh: status %d", rec.Code)
	}
}

func TestRefresh_ReuseClearsAllSessions(t *testing.T) {
	a := newTestAPI(t)
	reg := a.register(t, "alice@example.com", "pw1")

	// Two independent devices.
	t1 := a.login(t, "alice@example.com", "pw1").RefreshToken
	t2 := a.login(t, "alice@example.com", "pw1").RefreshToken

	// Device 1 rotates t1 -> t3.
	rec := a.do(t, http.MethodGet, "/auth/refresh", nil, t1)
	if rec.Code != http.StatusOK {
		t.Fatalf("first refresh: status %d", rec.Code)
	}
	t3 := decodeBody[tokensResponse](t, rec).RefreshToken

	// Replaying t1 is reuse: 401 and the whole registry is cleared.
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, t1)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed token: expected 401, got %d", rec.Code)
	}

	for name, tok := range map[string]string{"t2": t2, "t3": t3} {
		rec = a.do(t, http.MethodGet, "/auth/refresh", nil, tok)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s must be revoked after reuse, got %d", name, rec.Code)
		}
	}

	got, err := a.store.GetUserByID(context.Background(), reg.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got.RefreshTokens) != 0 {
		t.Fatalf("registry not cleared: %v", got.RefreshTokens)
	}
}

func TestRefresh_BadTokens(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "alice@example.com", "pw1")
	toks := a.login(t, "alice@example.com", "pw1")

	rec := a.do(t, http.MethodGet, "/auth/refresh", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, "not.a.token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rec.Code)
	}
	// Access tokens are signed with the other secret and must not redeem.
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, toks.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token as refresh: expected 401, got %d", rec.Code)
	}
}

func TestLogout_RevokesExactlyOneSession(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "alice@example.com", "pw1")

	s1 := a.login(t, "alice@example.com", "pw1").RefreshToken
	s2 := a.login(t, "alice@example.com", "pw1").RefreshToken

	rec := a.do(t, http.MethodGet, "/auth/logout", nil, s1)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body.String())
	}

	// s1 is gone, s2 still redeems.
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, s1)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("logged-out token refresh: expected 401, got %d", rec.Code)
	}
	// That failed attempt was a registry miss, which defensively cleared
	// everything: s2 is now dead as well.
	rec = a.do(t, http.MethodGet, "/auth/refresh", nil, s2)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoke-all after registry miss, got %d", rec.Code)
	}
}

func TestLogout_SecondCallFails(t *testing.T) {
	a := newTestAPI(t)
	a.register(t, "alice@example.com", "pw1")
	s1 := a.login(t, "alice@example.com", "pw1").RefreshToken

	rec := a.do(t, http.MethodGet, "/auth/logout", nil, s1)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d", rec.Code)
	}
	rec = a.do(t, http.MethodGet, "/auth/logout", nil, s1)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("second logout: expected 401, got %d", rec.Code)
	}
}

func TestEdit_Profile(t *testing.T) {
	a := newTestAPI(t)
	reg := a.register(t, "alice@example.com", "pw1")
	a.register(t, "bob@example.com", "pw2")

	access := reg.AccessToken

	// No token / refresh token as bearer -> 401.
	rec := a.do(t, http.MethodPut, "/auth/edit", map[string]string{"email": "new@example.com"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPut, "/auth/edit", map[string]string{"email": "new@example.com"}, reg.RefreshToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as access: expected 401, got %d", rec.Code)
	}

	// Empty update -> 400.
	rec = a.do(t, http.MethodPut, "/auth/edit", map[string]string{}, access)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty update: expected 400, got %d", rec.Code)
	}

	// Taken email -> 409.
	rec = a.do(t, http.MethodPut, "/auth/edit", map[string]string{"email": "bob@example.com"}, access)
	if rec.Code != http.StatusConflict {
		t.Fatalf("taken email: expected 409, got %d", rec.Code)
	}

	// Rename + password change.
	rec = a.do(t, http.MethodPut, "/auth/edit", map[string]string{"email": "alice2@example.com", "password": "pw-new"}, access)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: status %d body %s", rec.Code, rec.Body.String())
	}
	prof := decodeBody[profileResponse](t, rec)
	if prof.ID != reg.ID || prof.Email != "alice2@example.com" {
		t.Fatalf("unexpected profile: %+v", prof)
	}

	// New credentials work; old ones don't.
	a.login(t, "alice2@example.com", "pw-new")
	rec = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice@example.com", "password": "pw1"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old email login: expected 401, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "alice2@example.com", "password": "pw1"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password login: expected 401, got %d", rec.Code)
	}
}

func TestEdit_UnknownUser(t *testing.T) {
	a := newTestAPI(t)

	// A well-signed access token whose uid resolves to nothing.
	orphan, _, err := a.tokens.IssueAccess("01JUNKULIDJUNKULIDJUNKULID", time.Now().UTC())
	if err != nil {
		t.Fatalf("issue orphan token: %v", err)
	}

	rec := a.do(t, http.MethodPut, "/auth/edit", map[string]string{"email": "x@example.com"}, orphan)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequireAuth_Middleware(t *testing.T) {
	a := newTestAPI(t)
	reg := a.register(t, "alice@example.com", "pw1")

	var seenID string
	protected := RequireAuth(a.tokens, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authorized request: status %d", rec.Code)
	}
	if seenID != reg.ID {
		t.Fatalf("context uid mismatch: %q vs %q", seenID, reg.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/posts", nil)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request: expected 401, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/auth/register", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = a.do(t, http.MethodPost, "/auth/refresh", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
