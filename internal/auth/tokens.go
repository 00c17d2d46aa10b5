package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL   = 24 * time.Hour
	defaultRememberTTL = 30 * 24 * time.Hour
	defaultRefreshTTL  = 7 * 24 * time.Hour

	tokenTypeAccess = "access"
)

// Claims are the verified contents of an access token. The permission list is
// a snapshot for client-side gating; the server re-resolves permissions from
// the store on every request.
type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	SessionID   string   `json:"sid"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints signed access tokens and opaque refresh tokens.
type TokenIssuer struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	rememberTTL time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
}

// IssuerOption configures TokenIssuer behavior.
type IssuerOption func(*TokenIssuer)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRememberTTL configures the extended access lifetime used for
// remember-me logins.
func WithRememberTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.rememberTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer constructs an issuer signing with HS256 over the given secret.
func NewTokenIssuer(secret, issuer string, opts ...IssuerOption) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	ti := &TokenIssuer{
		secret:      []byte(secret),
		issuer:      strings.TrimSpace(issuer),
		accessTTL:   defaultAccessTTL,
		rememberTTL: defaultRememberTTL,
		refreshTTL:  defaultRefreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ti)
	}
	return ti, nil
}

// AccessTTL returns the configured lifetime for the given remember flag.
func (i *TokenIssuer) AccessTTL(remember bool) time.Duration {
	if remember {
		return i.rememberTTL
	}
	return i.accessTTL
}

// RefreshTTL returns the configured refresh lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// IssueAccess signs an access token for the principal bound to the session.
func (i *TokenIssuer) IssueAccess(p Principal, sessionID string, remember bool) (token, jti string, expiresAt time.Time, err error) {
	if p.User == nil || p.Role == nil {
		return "", "", time.Time{}, errors.New("auth: principal is incomplete")
	}
	now := i.now().UTC()
	expiresAt = now.Add(i.AccessTTL(remember))
	jti = newTokenID()

	claims := Claims{
		Username:    p.User.Username,
		Role:        p.Role.Name,
		Permissions: p.Role.Permissions.Keys(),
		SessionID:   sessionID,
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// Verify checks signature and expiry and returns the claims. Expired tokens
// surface ErrTokenExpired; every other defect is ErrInvalidToken.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken generates an opaque refresh token for the session. The
// token is "<sessionID>.<secret>"; only the sha256 of the secret is stored.
func (i *TokenIssuer) NewRefreshToken(sessionID string) (token, hash string, expiresAt time.Time, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", time.Time{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	return sessionID + "." + secret, HashRefreshSecret(secret), i.now().UTC().Add(i.refreshTTL), nil
}

// SplitRefreshToken separates the session identifier from the secret.
func SplitRefreshToken(raw string) (sessionID, secret string, err error) {
	idx := strings.IndexByte(raw, '.')
	if idx <= 0 || idx == len(raw)-1 {
		return "", "", errors.New("invalid refresh token format")
	}
	return raw[:idx], raw[idx+1:], nil
}

// HashRefreshSecret returns the hex sha256 digest stored on the session row.
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyRefreshSecret compares the stored hash with the presented secret in
// constant time.
func VerifyRefreshSecret(storedHash, secret string) bool {
	actual := HashRefreshSecret(secret)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}

func newTokenID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
