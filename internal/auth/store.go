package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Implementations must make every mutation a row-scoped atomic operation;
// no counters or flags may be cached in process across requests.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Sessions() SessionStore
	Audit() AuditStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByLogin matches username or email, case-sensitive exact match.
	// Soft-deleted users are never returned.
	FindByLogin(ctx context.Context, login string) (*User, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error
	SoftDelete(ctx context.Context, userID string, at time.Time) error
	List(ctx context.Context) ([]*User, error)

	// RecordLoginFailure increments the failure counter and applies the lock
	// deadline in a single atomic read-modify-write: two concurrent failures
	// must not both observe the pre-threshold count. Returns the
	// post-increment counter and the lock deadline if one is now set.
	RecordLoginFailure(ctx context.Context, userID string, threshold int, lockUntil time.Time) (int, *time.Time, error)

	// RecordLoginSuccess resets the failure counter, clears the lock, stamps
	// last-login and increments the login count.
	RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error

	// Unlock clears the failure counter and lock deadline.
	Unlock(ctx context.Context, userID string) error
}

// RoleStore manages roles and their permission sets.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	SetPermissions(ctx context.Context, roleID string, perms PermissionSet) error
	// Delete fails with ErrConflict for system roles and roles still
	// referenced by any user.
	Delete(ctx context.Context, roleID string) error
}

// SessionStore manages login sessions. The active flag and refresh expiry
// stored here are authoritative for revocation.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// Rotate swaps the refresh hash and access token identifier on refresh.
	// It must only affect a row that is still active.
	Rotate(ctx context.Context, id, refreshHash, accessTokenID string, accessExp, refreshExp, at time.Time) error
	Revoke(ctx context.Context, id string) error
	// RevokeAllForUser deactivates every active session of the user except
	// the optional exception. Returns the number of sessions revoked.
	RevokeAllForUser(ctx context.Context, userID, exceptID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]*Session, error)
}

// AuditStore appends immutable entries. Rows are never updated or deleted by
// normal operation.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}

// Auditor records security events as a side effect of the primary operation.
// Implementations must never fail the caller; write errors go to operational
// logs only.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NopAuditor discards all entries. Used when no recorder is wired.
type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEntry) {}
