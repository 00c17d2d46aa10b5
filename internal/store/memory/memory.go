// Package memory implements auth.Store with in-process maps. It backs unit
// tests and the smoke tool; the deployable store lives in store/pg.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"villagegrid.org/internal/auth"
)

// Store keeps everything behind one mutex, which also gives the atomic
// increment-and-check semantics the auth core requires.
type Store struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	roles    map[string]*auth.Role
	sessions map[string]*auth.Session
	audit    []*auth.AuditEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*auth.User),
		roles:    make(map[string]*auth.Role),
		sessions: make(map[string]*auth.Session),
	}
}

var _ auth.Store = (*Store)(nil)

func (s *Store) Users() auth.UserStore       { return (*userStore)(s) }
func (s *Store) Roles() auth.RoleStore       { return (*roleStore)(s) }
func (s *Store) Sessions() auth.SessionStore { return (*sessionStore)(s) }
func (s *Store) Audit() auth.AuditStore      { return (*auditStore)(s) }

// AuditEntries returns a copy of the appended entries, oldest first.
func (s *Store) AuditEntries() []*auth.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// User store ---------------------------------------------------------------

type userStore Store

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.DeletedAt != nil {
			continue
		}
		if existing.Username == u.Username || existing.Email == u.Email {
			return auth.ErrConflict
		}
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *userStore) FindByLogin(ctx context.Context, login string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.DeletedAt != nil {
			continue
		}
		if u.Username == login || u.Email == login {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return auth.ErrNotFound
	}
	clone := *u
	s.users[u.ID] = &clone
	return nil
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string, changedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = changedAt
	u.UpdatedAt = changedAt
	return nil
}

func (s *userStore) SoftDelete(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.DeletedAt = &at
	u.Active = false
	u.UpdatedAt = at
	return nil
}

func (s *userStore) List(ctx context.Context) ([]*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.User
	for _, u := range s.users {
		if u.DeletedAt != nil {
			continue
		}
		clone := *u
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *userStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return 0, nil, auth.ErrNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		until := lockUntil
		u.LockedUntil = &until
	}
	return u.FailedLoginAttempts, u.LockedUntil, nil
}

func (s *userStore) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	u.LoginCount++
	u.UpdatedAt = at
	return nil
}

func (s *userStore) Unlock(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	clone := *role
	s.roles[role.ID] = &clone
	return nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *role
	return &clone, nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.ToLower(name)
	for _, role := range s.roles {
		if role.Name == name {
			clone := *role
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.Role
	for _, role := range s.roles {
		clone := *role
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *roleStore) SetPermissions(ctx context.Context, roleID string, perms auth.PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	role.Permissions = perms
	return nil
}

func (s *roleStore) Delete(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	if role.System {
		return auth.ErrConflict
	}
	for _, u := range s.users {
		if u.RoleID == roleID && u.DeletedAt == nil {
			return auth.ErrConflict
		}
	}
	delete(s.roles, roleID)
	return nil
}

// Session store ------------------------------------------------------------

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastUsedAt = at
	return nil
}

func (s *sessionStore) Rotate(ctx context.Context, id, refreshHash, accessTokenID string, accessExp, refreshExp, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return auth.ErrNotFound
	}
	sess.RefreshHash = refreshHash
	sess.AccessTokenID = accessTokenID
	sess.AccessExpiresAt = accessExp
	sess.RefreshExpiresAt = refreshExp
	sess.LastUsedAt = at
	return nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.Active = false
	return nil
}

func (s *sessionStore) RevokeAllForUser(ctx context.Context, userID, exceptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	revoked := 0
	for _, sess := range s.sessions {
		if sess.UserID != userID || !sess.Active || sess.ID == exceptID {
			continue
		}
		sess.Active = false
		revoked++
	}
	return revoked, nil
}

func (s *sessionStore) ListActive(ctx context.Context, userID string) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*auth.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || !sess.Usable(now) {
			continue
		}
		clone := *sess
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Audit store --------------------------------------------------------------

type auditStore Store

func (s *auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.audit = append(s.audit, &clone)
	return nil
}
