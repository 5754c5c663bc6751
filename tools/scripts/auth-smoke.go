// Package main provides a CI-friendly HTTP smoke test for the Plume auth API.
//
// It validates:
//   - register -> tokens + identity payload
//   - login with the registered credentials
//   - uniform 401 on a wrong password
//   - refresh rotation (new refresh token replaces the old one)
//   - reuse detection (replaying a rotated token kills every session)
//   - authenticated profile edit
//   - logout revocation (second logout fails)
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type identityPayload struct {
	ID           string  `json:"_id"`
	Email        string  `json:"email"`
	ImgURL       *string `json:"imgUrl"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
}

type smoke struct {
	base    string
	client  *http.Client
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Auth server base URL")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: *timeout},
		verbose: *verbose,
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	pass := "smoke-pass-1"

	reg := s.mustRegister(email, pass)
	if reg.Email != email {
		fatalf("register: email mismatch: got %q want %q", reg.Email, email)
	}

	pair := s.mustLogin(email, pass)
	s.mustLoginFail(email, pass+"x")

	rotated := s.mustRefresh(pair.RefreshToken)
	if rotated.RefreshToken == pair.RefreshToken {
		fatalf("refresh: token was not rotated")
	}

	// Replaying the pre-rotation token must trip reuse detection and clear
	// the registry, killing the rotated session too.
	s.mustRefreshFail(pair.RefreshToken)
	s.mustRefreshFail(rotated.RefreshToken)

	pair2 := s.mustLogin(email, pass)

	newEmail := fmt.Sprintf("smoke-edit-%d@example.com", time.Now().UnixNano())
	s.mustEdit(pair2.AccessToken, newEmail)
	s.mustLogin(newEmail, pass)

	s.mustLogout(pair2.RefreshToken)
	s.mustLogoutFail(pair2.RefreshToken)

	fmt.Printf("OK: user=%s email=%s\n", reg.ID, newEmail)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *smoke) mustRegister(email, pass string) identityPayload {
	status, body := s.post("/auth/register", map[string]string{"email": email, "password": pass})
	if status != http.StatusCreated {
		fatalf("register: status=%d body=%s", status, body)
	}
	var p identityPayload
	mustDecode(body, &p, "register")
	if p.ID == "" || p.AccessToken == "" || p.RefreshToken == "" {
		fatalf("register: incomplete payload: %s", body)
	}
	s.logf("registered %s id=%s", email, p.ID)
	return p
}

func (s *smoke) mustLogin(email, pass string) tokenPair {
	status, body := s.post("/auth/login", map[string]string{"email": email, "password": pass})
	if status != http.StatusOK {
		fatalf("login: status=%d body=%s", status, body)
	}
	var p tokenPair
	mustDecode(body, &p, "login")
	if p.AccessToken == "" || p.RefreshToken == "" {
		fatalf("login: incomplete payload: %s", body)
	}
	return p
}

func (s *smoke) mustLoginFail(email, pass string) {
	status, body := s.post("/auth/login", map[string]string{"email": email, "password": pass})
	if status != http.StatusUnauthorized {
		fatalf("login (bad password): status=%d body=%s, want 401", status, body)
	}
}

func (s *smoke) mustRefresh(refresh string) tokenPair {
	status, body := s.get("/auth/refresh", refresh)
	if status != http.StatusOK {
		fatalf("refresh: status=%d body=%s", status, body)
	}
	var p tokenPair
	mustDecode(body, &p, "refresh")
	if p.AccessToken == "" || p.RefreshToken == "" {
		fatalf("refresh: incomplete payload: %s", body)
	}
	return p
}

func (s *smoke) mustRefreshFail(refresh string) {
	status, body := s.get("/auth/refresh", refresh)
	if status != http.StatusUnauthorized {
		fatalf("refresh (revoked token): status=%d body=%s, want 401", status, body)
	}
}

func (s *smoke) mustEdit(access, newEmail string) {
	status, body := s.do(http.MethodPut, "/auth/edit", access, map[string]string{"email": newEmail})
	if status != http.StatusOK {
		fatalf("edit: status=%d body=%s", status, body)
	}
	s.logf("edited email -> %s", newEmail)
}

func (s *smoke) mustLogout(refresh string) {
	status, body := s.get("/auth/logout", refresh)
	if status != http.StatusOK {
		fatalf("logout: status=%d body=%s", status, body)
	}
}

func (s *smoke) mustLogoutFail(refresh string) {
	status, body := s.get("/auth/logout", refresh)
	if status != http.StatusUnauthorized {
		fatalf("logout (already revoked): status=%d body=%s, want 401", status, body)
	}
}

func (s *smoke) post(path string, payload any) (int, []byte) {
	return s.do(http.MethodPost, path, "", payload)
}

func (s *smoke) get(path, bearer string) (int, []byte) {
	return s.do(http.MethodGet, path, bearer, nil)
}

func (s *smoke) do(method, path, bearer string, payload any) (int, []byte) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, s.base+path, body)
	if err != nil {
		fatalf("build request %s: %v", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s response: %v", path, err)
	}
	return resp.StatusCode, data
}

func (s *smoke) logf(format string, args ...any) {
	if s.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func mustDecode(body []byte, v any, step string) {
	if err := json.Unmarshal(body, v); err != nil {
		fatalf("decode %s response: %v (body=%s)", step, err, body)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
