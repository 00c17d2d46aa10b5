package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testPrincipal() Principal {
	return Principal{
		User: &User{ID: "u1", Username: "alice"},
		Role: &Role{Name: "admin", Permissions: NewPermissionSet("users.read", "users.create")},
	}
}

func newTestIssuer(t *testing.T, opts ...IssuerOption) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret-please-rotate", "villagegrid-test", opts...)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("   ", "iss"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	issuer := newTestIssuer(t)
	token, jti, expiresAt, err := issuer.IssueAccess(testPrincipal(), "sess-1", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if jti == "" {
		t.Fatal("expected a token id")
	}
	if remaining := time.Until(expiresAt); remaining < 23*time.Hour {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Username != "alice" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("sid = %q, want sess-1", claims.SessionID)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("permissions snapshot = %v", claims.Permissions)
	}
}

func TestRememberExtendsLifetime(t *testing.T) {
	issuer := newTestIssuer(t,
		WithAccessTTL(time.Hour),
		WithRememberTTL(48*time.Hour),
	)
	_, _, shortExp, err := issuer.IssueAccess(testPrincipal(), "s", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, _, longExp, err := issuer.IssueAccess(testPrincipal(), "s", true)
	if err != nil {
		t.Fatalf("issue remember: %v", err)
	}
	if !longExp.After(shortExp.Add(40 * time.Hour)) {
		t.Fatalf("remember expiry %v not extended past %v", longExp, shortExp)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	issuer := newTestIssuer(t,
		WithAccessTTL(time.Hour),
		WithIssuerClock(func() time.Time { return past }),
	)
	token, _, _, err := issuer.IssueAccess(testPrincipal(), "s", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	live := newTestIssuer(t)
	if _, err := live.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer(t)
	token, _, _, err := issuer.IssueAccess(testPrincipal(), "s", false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	other, err := NewTokenIssuer("a-different-secret", "villagegrid-test")
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)
	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	token, hash, expiresAt, err := issuer.NewRefreshToken("sess-42")
	if err != nil {
		t.Fatalf("new refresh: %v", err)
	}
	if time.Until(expiresAt) < 6*24*time.Hour {
		t.Fatalf("unexpected refresh expiry %v", expiresAt)
	}

	sessionID, secret, err := SplitRefreshToken(token)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if sessionID != "sess-42" {
		t.Fatalf("session id = %q", sessionID)
	}
	if !VerifyRefreshSecret(hash, secret) {
		t.Fatal("secret must verify against its own hash")
	}
	if VerifyRefreshSecret(hash, secret+"x") {
		t.Fatal("altered secret must not verify")
	}
	if strings.Contains(hash, secret) {
		t.Fatal("hash must not contain the raw secret")
	}
}

func TestSplitRefreshTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "nodot", ".secret", "session."} {
		if _, _, err := SplitRefreshToken(raw); err == nil {
			t.Fatalf("SplitRefreshToken(%q) succeeded, want error", raw)
		}
	}
}
