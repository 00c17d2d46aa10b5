package auth

import "time"

// User is the identity record owned by the credential store. Users are never
// hard-deleted; DeletedAt marks removal.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name,omitempty"`
	LastName            string     `json:"last_name,omitempty"`
	PasswordHash        string     `json:"-"`
	RoleID              string     `json:"role_id"`
	Active              bool       `json:"is_active"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login,omitempty"`
	LoginCount          int        `json:"login_count"`
	PasswordChangedAt   time.Time  `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"-"`
}

// CanAuthenticate reports whether the account may hold a session at all.
// Lock state is checked separately so the caller can disclose remaining time.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.Active && u.DeletedAt == nil
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Role groups permissions under a name. System roles are seeded and cannot be
// deleted; any role referenced by a user cannot be deleted either.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	System      bool          `json:"is_system_role"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Session binds a token pair to a device/IP. The session table is the
// authoritative revocation mechanism: a row with Active=false or a past
// refresh expiry rejects both direct use and refresh, regardless of whether
// the JWT signature is still valid.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	AccessTokenID    string    `json:"-"`
	RefreshHash      string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	IP               string    `json:"ip"`
	Device           string    `json:"device"`
	Active           bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// Usable reports whether the session accepts direct use or refresh.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.Active && now.Before(s.RefreshExpiresAt)
}

// RequestMeta carries transport metadata captured per request for sessions
// and the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// AuditEntry is one append-only record of a security-relevant event.
// ActorID is empty for anonymous or system actions.
type AuditEntry struct {
	ID           string         `json:"id"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ActorID      string         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	OldValue     map[string]any `json:"old_value,omitempty"`
	NewValue     map[string]any `json:"new_value,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
}

// Principal is an authenticated user with the role resolved from the store.
// The permission snapshot inside the access token is for client-side gating
// only; authorization decisions always go through the role loaded here.
type Principal struct {
	User      *User
	Role      *Role
	SessionID string
}

// Can reports whether the principal may perform action on resource.
func (p Principal) Can(resource, action string) bool {
	if p.Role == nil {
		return false
	}
	return p.Role.Permissions.Allows(resource, action)
}
