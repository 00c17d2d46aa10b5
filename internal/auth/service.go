package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"villagegrid.org/internal/obs"
)

const defaultRoleName = "resident"

// Service composes the credential store, token issuer, lockout policy and
// audit recorder into the login/session/permission engine.
type Service struct {
	store       Store
	tokens      *TokenIssuer
	auditor     Auditor
	lockout     LockoutPolicy
	defaultRole string
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAuditor wires the audit recorder.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithLockoutPolicy overrides the failure threshold and lock duration.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) {
		if p.Threshold > 0 && p.Duration > 0 {
			s.lockout = p
		}
	}
}

// WithDefaultRole sets the role assigned to users created without one.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) {
		name = strings.TrimSpace(name)
		if name != "" {
			s.defaultRole = name
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:       store,
		tokens:      tokens,
		auditor:     NopAuditor{},
		lockout:     DefaultLockoutPolicy(),
		defaultRole: defaultRoleName,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User         *User
	Role         *Role
	Session      *Session
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// UserProfile is the authenticated user's own view of the account.
type UserProfile struct {
	User        *User    `json:"user"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Login verifies credentials, applies lockout policy and opens a session.
func (s *Service) Login(ctx context.Context, login, password string, remember bool, meta RequestMeta) (LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	user, err := s.store.Users().FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown account: burn a hash comparison so the response time
			// does not reveal which field was wrong.
			burnPasswordCheck(password)
			s.auditFailure(ctx, "", ActionLoginFailed, "user", "", meta, "unknown account")
			obs.ObserveLogin("invalid_credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !user.CanAuthenticate() {
		s.auditFailure(ctx, user.ID, ActionLoginFailed, "user", user.ID, meta, "account inactive")
		obs.ObserveLogin("account_inactive")
		return LoginResult{}, ErrAccountInactive
	}

	if user.LockedAt(now) {
		// Locked accounts never reach the password comparison.
		s.auditFailure(ctx, user.ID, ActionLoginFailed, "user", user.ID, meta, "account locked")
		obs.ObserveLogin("account_locked")
		return LoginResult{}, &LockedError{Until: *user.LockedUntil}
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		failures, lockedUntil, ferr := s.store.Users().RecordLoginFailure(ctx, user.ID, s.lockout.Threshold, s.lockout.Deadline(now))
		if ferr != nil {
			return LoginResult{}, ferr
		}
		s.auditFailure(ctx, user.ID, ActionLoginFailed, "user", user.ID, meta, "password mismatch")
		obs.ObserveLogin("invalid_credentials")
		if lockedUntil != nil && s.lockout.ShouldLock(failures) {
			s.auditor.Record(ctx, AuditEntry{
				ActorID: user.ID, Action: ActionAccountLocked,
				ResourceType: "user", ResourceID: user.ID,
				NewValue: map[string]any{"locked_until": lockedUntil.UTC().Format(time.RFC3339)},
				IP: meta.IP, UserAgent: meta.UserAgent,
				Success: true, OccurredAt: now,
			})
			obs.ObserveLockout()
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.Users().RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return LoginResult{}, err
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	user.LoginCount++

	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return LoginResult{}, err
	}
	principal := Principal{User: user, Role: role}

	sessionID := uuid.NewString()
	accessToken, jti, accessExp, err := s.tokens.IssueAccess(principal, sessionID, remember)
	if err != nil {
		return LoginResult{}, err
	}
	refreshToken, refreshHash, refreshExp, err := s.tokens.NewRefreshToken(sessionID)
	if err != nil {
		return LoginResult{}, err
	}

	session := &Session{
		ID:               sessionID,
		UserID:           user.ID,
		AccessTokenID:    jti,
		RefreshHash:      refreshHash,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		IP:               meta.IP,
		Device:           meta.UserAgent,
		Active:           true,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
	if err := s.store.Sessions().Create(ctx, session); err != nil {
		return LoginResult{}, err
	}

	s.auditor.Record(ctx, AuditEntry{
		ActorID: user.ID, Action: ActionLoginSuccess,
		ResourceType: "session", ResourceID: sessionID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	obs.ObserveLogin("success")

	return LoginResult{
		User:         user,
		Role:         role,
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    accessExp.Sub(now),
	}, nil
}

// Refresh rotates the refresh token and issues a new access token. A
// well-formed token whose secret does not match the session's stored hash is
// treated as suspected theft: the session is revoked as a precaution.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (RefreshResult, error) {
	sessionID, secret, err := SplitRefreshToken(refreshToken)
	if err != nil {
		obs.ObserveRefresh("invalid")
		return RefreshResult{}, ErrInvalidToken
	}

	now := s.now().UTC()
	session, err := s.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditFailure(ctx, "", ActionTokenRefreshFailed, "session", sessionID, meta, "unknown session")
			obs.ObserveRefresh("invalid")
			return RefreshResult{}, ErrInvalidToken
		}
		return RefreshResult{}, err
	}

	if !session.Usable(now) {
		s.auditFailure(ctx, session.UserID, ActionTokenRefreshFailed, "session", sessionID, meta, "session inactive or expired")
		obs.ObserveRefresh("session_expired")
		return RefreshResult{}, ErrSessionExpired
	}

	if !VerifyRefreshSecret(session.RefreshHash, secret) {
		// Stale secret against a live session: the current token was likely
		// stolen and already rotated. Kill the session.
		_ = s.store.Sessions().Revoke(ctx, session.ID)
		s.auditFailure(ctx, session.UserID, ActionTokenRefreshFailed, "session", sessionID, meta, "refresh token reuse detected")
		obs.ObserveRefresh("reuse_detected")
		return RefreshResult{}, ErrInvalidToken
	}

	user, err := s.store.Users().Find(ctx, session.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	if !user.CanAuthenticate() {
		s.auditFailure(ctx, user.ID, ActionTokenRefreshFailed, "session", sessionID, meta, "account inactive")
		obs.ObserveRefresh("account_inactive")
		return RefreshResult{}, ErrAccountInactive
	}
	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return RefreshResult{}, err
	}

	principal := Principal{User: user, Role: role, SessionID: session.ID}
	accessToken, jti, accessExp, err := s.tokens.IssueAccess(principal, session.ID, false)
	if err != nil {
		return RefreshResult{}, err
	}
	newRefresh, newHash, refreshExp, err := s.tokens.NewRefreshToken(session.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	if err := s.store.Sessions().Rotate(ctx, session.ID, newHash, jti, accessExp, refreshExp, now); err != nil {
		return RefreshResult{}, err
	}

	s.auditor.Record(ctx, AuditEntry{
		ActorID: user.ID, Action: ActionTokenRefreshed,
		ResourceType: "session", ResourceID: session.ID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	obs.ObserveRefresh("success")

	return RefreshResult{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    accessExp.Sub(now),
	}, nil
}

// Authenticate verifies an access token and resolves the principal. The role
// and its permissions are loaded fresh from the store; if the token names a
// session, that session must still be live and is touched.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}

	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if !user.CanAuthenticate() {
		return Principal{}, ErrInvalidToken
	}

	role, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return Principal{}, err
	}
	principal := Principal{User: user, Role: role, SessionID: claims.SessionID}

	if claims.SessionID != "" {
		now := s.now().UTC()
		session, err := s.store.Sessions().Find(ctx, claims.SessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Principal{}, ErrSessionExpired
			}
			return Principal{}, err
		}
		if session.UserID != user.ID || !session.Usable(now) {
			return Principal{}, ErrSessionExpired
		}
		// Last-used touch is best effort; a failed touch must not reject an
		// otherwise valid request.
		_ = s.store.Sessions().Touch(ctx, session.ID, now)
	}
	return principal, nil
}

// Authorize checks the permission and audits denials.
func (s *Service) Authorize(ctx context.Context, principal Principal, resource, action string, meta RequestMeta) error {
	if principal.Can(resource, action) {
		return nil
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(principal), Action: ActionPermissionDenied,
		ResourceType: resource,
		NewValue: map[string]any{"required": PermissionKey(resource, action)},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: false, Error: "insufficient permissions",
		OccurredAt: s.now().UTC(),
	})
	obs.ObservePermissionDenied()
	return ErrPermissionDenied
}

// Logout revokes the session that issued the request.
func (s *Service) Logout(ctx context.Context, principal Principal, meta RequestMeta) error {
	if principal.SessionID == "" {
		return fmt.Errorf("%w: no session bound to token", ErrInvalidInput)
	}
	if err := s.store.Sessions().Revoke(ctx, principal.SessionID); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(principal), Action: ActionLogout,
		ResourceType: "session", ResourceID: principal.SessionID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return nil
}

// Profile returns the caller's own account view.
func (s *Service) Profile(ctx context.Context, principal Principal) (UserProfile, error) {
	if principal.User == nil || principal.Role == nil {
		return UserProfile{}, ErrInvalidToken
	}
	return UserProfile{
		User:        principal.User,
		Role:        principal.Role.Name,
		Permissions: principal.Role.Permissions.Keys(),
	}, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every other session for the user, sparing the one that asked.
func (s *Service) ChangePassword(ctx context.Context, principal Principal, current, next string, meta RequestMeta) error {
	if principal.User == nil {
		return ErrInvalidToken
	}
	if err := VerifyPassword(principal.User.PasswordHash, current); err != nil {
		s.auditFailure(ctx, principal.User.ID, ActionPasswordChanged, "user", principal.User.ID, meta, "current password mismatch")
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.Users().UpdatePassword(ctx, principal.User.ID, hash, now); err != nil {
		return err
	}
	revoked, err := s.store.Sessions().RevokeAllForUser(ctx, principal.User.ID, principal.SessionID)
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: principal.User.ID, Action: ActionPasswordChanged,
		ResourceType: "user", ResourceID: principal.User.ID,
		NewValue: map[string]any{"sessions_revoked": revoked},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return nil
}

// ListSessions returns the caller's active sessions.
func (s *Service) ListSessions(ctx context.Context, principal Principal) ([]*Session, error) {
	if principal.User == nil {
		return nil, ErrInvalidToken
	}
	return s.store.Sessions().ListActive(ctx, principal.User.ID)
}

// RevokeSession deactivates one session. Only the owning user or a caller
// with session update rights may revoke it. Sessions the caller is not
// allowed to touch are reported as absent, so session ids cannot be
// enumerated through this endpoint.
func (s *Service) RevokeSession(ctx context.Context, principal Principal, sessionID string, meta RequestMeta) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if principal.User == nil {
		return ErrInvalidToken
	}
	session, err := s.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != principal.User.ID && !principal.Can(ResourceSessions, ActionUpdate) {
		// Audited as a denial, surfaced as absence.
		_ = s.Authorize(ctx, principal, ResourceSessions, ActionUpdate, meta)
		return ErrNotFound
	}
	if err := s.store.Sessions().Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(principal), Action: ActionSessionRevoked,
		ResourceType: "session", ResourceID: sessionID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return nil
}

// RevokeAllSessions is "log out everywhere", sparing the current session.
func (s *Service) RevokeAllSessions(ctx context.Context, principal Principal, meta RequestMeta) (int, error) {
	if principal.User == nil {
		return 0, ErrInvalidToken
	}
	revoked, err := s.store.Sessions().RevokeAllForUser(ctx, principal.User.ID, principal.SessionID)
	if err != nil {
		return 0, err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: principal.User.ID, Action: ActionSessionsRevokedAll,
		ResourceType: "user", ResourceID: principal.User.ID,
		NewValue: map[string]any{"sessions_revoked": revoked},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return revoked, nil
}

func (s *Service) auditFailure(ctx context.Context, actorID, action, resourceType, resourceID string, meta RequestMeta, reason string) {
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID, Action: action,
		ResourceType: resourceType, ResourceID: resourceID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: false, Error: reason,
		OccurredAt: s.now().UTC(),
	})
}

func actorID(p Principal) string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}
