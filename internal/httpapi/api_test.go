package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"villagegrid.org/internal/auth"
	"villagegrid.org/internal/store/memory"
)

const testPassword = "correct-horse-battery"

type testEnv struct {
	store *memory.Store
	srv   *httptest.Server
}

type syncAuditor struct {
	store auth.AuditStore
}

func (a syncAuditor) Record(ctx context.Context, entry auth.AuditEntry) {
	entry.ID = entry.Action
	_ = a.store.Append(ctx, &entry)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	roles := []*auth.Role{
		{ID: "role-super", Name: "superadmin", System: true,
			Permissions: auth.NewPermissionSet(auth.PermissionAll)},
		{ID: "role-staff", Name: "staff", System: true,
			Permissions: auth.NewPermissionSet("users.read")},
	}
	for _, role := range roles {
		role.CreatedAt, role.UpdatedAt = now, now
		if err := store.Roles().Create(ctx, role); err != nil {
			t.Fatalf("seed role: %v", err)
		}
	}
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := []*auth.User{
		{ID: "user-alice", Username: "alice", Email: "alice@example.com",
			PasswordHash: hash, RoleID: "role-super", Active: true},
		{ID: "user-bob", Username: "bob", Email: "bob@example.com",
			PasswordHash: hash, RoleID: "role-staff", Active: true},
	}
	for _, u := range users {
		u.CreatedAt, u.UpdatedAt, u.PasswordChangedAt = now, now, now
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	issuer, err := auth.NewTokenIssuer("httpapi-test-secret", "villagegrid-test")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc, err := auth.NewService(store, issuer, auth.WithAuditor(syncAuditor{store.Audit()}))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{store: store, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func (e *testEnv) login(t *testing.T, username, password string) (string, string) {
	t.Helper()
	resp, payload := e.do(t, http.MethodPost, "/v1/auth/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %v", resp.StatusCode, payload)
	}
	access, _ := payload["access_token"].(string)
	refresh, _ := payload["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("missing tokens in %v", payload)
	}
	return access, refresh
}

func TestHealthzIsPublic(t *testing.T) {
	e := newTestEnv(t)
	resp, payload := e.do(t, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["status"] != "ok" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/v1/auth/profile", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestLoginAndProfile(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "alice", testPassword)

	resp, payload := e.do(t, http.MethodGet, "/v1/auth/profile", access, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d: %v", resp.StatusCode, payload)
	}
	if payload["role"] != "superadmin" {
		t.Fatalf("role = %v", payload["role"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	resp, payload := e.do(t, http.MethodPost, "/v1/auth/login", "",
		`{"username":"alice","password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["error"] != "invalid credentials" {
		t.Fatalf("error = %v", payload["error"])
	}
}

func TestLockedAccountDisclosesDeadline(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 5; i++ {
		resp, _ := e.do(t, http.MethodPost, "/v1/auth/login", "",
			`{"username":"bob","password":"wrong"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i+1, resp.StatusCode)
		}
	}
	resp, payload := e.do(t, http.MethodPost, "/v1/auth/login", "",
		`{"username":"bob","password":"`+testPassword+`"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if payload["locked_until"] == nil {
		t.Fatalf("payload = %v, want locked_until", payload)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestTokenFromCookie(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "alice", testPassword)

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/v1/auth/profile", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: "access_token", Value: access})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRefreshFlow(t *testing.T) {
	e := newTestEnv(t)
	_, refresh := e.login(t, "alice", testPassword)

	resp, payload := e.do(t, http.MethodPost, "/v1/auth/refresh", "",
		`{"refresh_token":"`+refresh+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d: %v", resp.StatusCode, payload)
	}
	rotated, _ := payload["refresh_token"].(string)
	if rotated == "" || rotated == refresh {
		t.Fatal("refresh token must rotate")
	}

	// Replaying the old token is rejected.
	resp, _ = e.do(t, http.MethodPost, "/v1/auth/refresh", "",
		`{"refresh_token":"`+refresh+`"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reuse status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "alice", testPassword)

	resp, _ := e.do(t, http.MethodPost, "/v1/auth/logout", access, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/v1/auth/profile", access, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestStaffCannotDeleteUsers(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "bob", testPassword)

	resp, payload := e.do(t, http.MethodDelete, "/v1/users/user-alice", access, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %v", resp.StatusCode, payload)
	}
	denied := 0
	for _, entry := range e.store.AuditEntries() {
		if entry.Action == auth.ActionPermissionDenied {
			denied++
		}
	}
	if denied != 1 {
		t.Fatalf("permission_denied audit entries = %d, want 1", denied)
	}
}

func TestAdminCreatesUserOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "alice", testPassword)

	resp, payload := e.do(t, http.MethodPost, "/v1/users", access,
		`{"username":"dave","email":"dave@example.com","password":"daves-password-1","role":"staff"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", resp.StatusCode, payload)
	}
	if payload["username"] != "dave" {
		t.Fatalf("payload = %v", payload)
	}
	e.login(t, "dave", "daves-password-1")
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/v1/auth/login", "", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodPost {
		t.Fatalf("Allow = %q", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	e := newTestEnv(t)
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "test-rid-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "test-rid-1" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	store := memory.New()
	issuer, err := auth.NewTokenIssuer("rate-limit-secret", "villagegrid-test")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc, err := auth.NewService(store, issuer)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc, WithRateLimit(2, 1))
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	limited := false
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			if resp.Header.Get("Retry-After") == "" {
				t.Fatal("missing Retry-After on 429")
			}
			break
		}
	}
	if !limited {
		t.Fatal("expected the token bucket to reject a burst of 5")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t, "alice", testPassword)
	resp, _ := e.do(t, http.MethodGet, "/v1/nope", access, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRoutePatternBoundsLabels(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/v1/auth/login", "/v1/auth/login"},
		{"/v1/auth/sessions", "/v1/auth/sessions"},
		{"/v1/auth/sessions/0b6e9f3c", "/v1/auth/sessions/{id}"},
		{"/v1/users/01J00000000000000000000005", "/v1/users/{id}"},
		{"/v1/users/01J00000000000000000000005/password", "/v1/users/{id}/password"},
		{"/v1/users/01J00000000000000000000005/unlock", "/v1/users/{id}/unlock"},
		{"/v1/roles/01J00000000000000000000001", "/v1/roles/{id}"},
		{"/v1/roles/01J00000000000000000000001/permissions", "/v1/roles/{id}/permissions"},
		{"/v1/users/a/b/c", "unmatched"},
		{"/wp-admin/setup.php", "unmatched"},
		{"/v1/nope", "unmatched"},
	}
	for _, tc := range cases {
		if got := routePattern(tc.path); got != tc.want {
			t.Errorf("routePattern(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
