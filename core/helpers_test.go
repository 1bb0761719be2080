package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// memTokens is an in-memory TokenStore.
type memTokens struct {
	mu      sync.Mutex
	access  string
	refresh string
	user    *UserRecord
	clears  int
}

func (m *memTokens) SetTokens(_ context.Context, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh = access, refresh
	return nil
}

func (m *memTokens) Token(context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.access != ""
}

func (m *memTokens) RefreshToken(context.Context) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, m.refresh != ""
}

func (m *memTokens) ClearTokens(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh, m.user = "", "", nil
	m.clears++
	return nil
}

func (m *memTokens) CacheUser(_ context.Context, u UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = &u
	return nil
}

func (m *memTokens) cached() *UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// stubBackend implements AuthBackend with swappable functions.
type stubBackend struct {
	obtain   func(ctx context.Context, email, password string) (TokenPair, error)
	register func(ctx context.Context, in RegistrationInput) (TokenPair, error)
	current  func(ctx context.Context) (UserRecord, error)
}

func (b *stubBackend) ObtainToken(ctx context.Context, email, password string) (TokenPair, error) {
	return b.obtain(ctx, email, password)
}

func (b *stubBackend) Register(ctx context.Context, in RegistrationInput) (TokenPair, error) {
	return b.register(ctx, in)
}

func (b *stubBackend) CurrentUser(ctx context.Context) (UserRecord, error) {
	return b.current(ctx)
}

// apiErr builds the error the gateway would return for status and body.
func apiErr(status int, body string) *APIError {
	var env ErrorEnvelope
	if body != "" {
		_ = json.Unmarshal([]byte(body), &env)
	}
	return &APIError{Kind: kindForStatus(status, env), Status: status, Method: http.MethodPost, Path: "/test/", Envelope: env}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

const testJWTSecret = "terrabia-test-secret"

// mintAccessToken returns a SimpleJWT-shaped access token for userID.
func mintAccessToken(t *testing.T, userID int64) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"user_id":    userID,
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type fakeAccount struct {
	password string
	user     map[string]any
}

// fakeBackend imitates the Terrabia REST API: SimpleJWT auth plus canned
// responses for everything else.
type fakeBackend struct {
	t *testing.T

	mu       sync.Mutex
	accounts map[string]fakeAccount
	routes   map[string]http.HandlerFunc
	revoked  bool
	calls    []string
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{t: t, accounts: map[string]fakeAccount{}, routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) addAccount(email, password string, user map[string]any) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	user["email"] = email
	fb.accounts[email] = fakeAccount{password: password, user: user}
}

// handle overrides one "METHOD /path/" route.
func (fb *fakeBackend) handle(route string, h http.HandlerFunc) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.routes[route] = h
}

// revoke makes every bearer token invalid from now on.
func (fb *fakeBackend) revoke() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.revoked = true
}

func (fb *fakeBackend) called(route string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, c := range fb.calls {
		if c == route {
			return true
		}
	}
	return false
}

func (fb *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	fb.mu.Lock()
	fb.calls = append(fb.calls, route)
	h := fb.routes[route]
	fb.mu.Unlock()

	if route == "POST /token/" {
		fb.obtainToken(w, r)
		return
	}
	if anonymousAllowed(r) {
		if h != nil {
			h(w, r)
			return
		}
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	user, ok := fb.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid for any token type"})
		return
	}
	if h != nil {
		h(w, r)
		return
	}
	if route == "GET /auth/users/me/" {
		writeJSON(w, http.StatusOK, user)
		return
	}
	writeJSON(w, http.StatusOK, []any{})
}

// anonymousAllowed mirrors DRF: the catalog and registration are open, but a
// request that carries a bad token is still rejected.
func anonymousAllowed(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/register/":
		return true
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/products/"):
		return true
	}
	return false
}

func (fb *fakeBackend) obtainToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"bad json"}})
		return
	}
	fb.mu.Lock()
	acc, ok := fb.accounts[body.Username]
	fb.mu.Unlock()
	if !ok || acc.password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Aucun compte actif avec ces identifiants"})
		return
	}
	id, _ := acc.user["id"].(int)
	writeJSON(w, http.StatusOK, map[string]string{
		"access":  mintAccessToken(fb.t, int64(id)),
		"refresh": fmt.Sprintf("refresh-%d", id),
	})
}

func (fb *fakeBackend) authenticate(r *http.Request) (map[string]any, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return nil, false
	}
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return []byte(testJWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, false
	}
	claims, _ := tok.Claims.(jwt.MapClaims)
	id, _ := claims["user_id"].(float64)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.revoked {
		return nil, false
	}
	for _, acc := range fb.accounts {
		if uid, _ := acc.user["id"].(int); float64(uid) == id {
			return acc.user, true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
