package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"villagegrid.org/internal/ids"
)

// CreateUserInput describes a new account. RoleName falls back to the
// configured default role when empty.
type CreateUserInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	RoleName  string `json:"role"`
	Active    *bool  `json:"is_active"`
}

// UpdateUserInput carries optional field updates. Nil means unchanged.
type UpdateUserInput struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	RoleName  *string `json:"role"`
	Active    *bool   `json:"is_active"`
}

// CreateUser registers a new account. Gated by users.create.
func (s *Service) CreateUser(ctx context.Context, caller Principal, in CreateUserInput, meta RequestMeta) (*User, error) {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionCreate, meta); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	roleName := strings.TrimSpace(in.RoleName)
	if roleName == "" {
		roleName = s.defaultRole
	}
	role, err := s.store.Roles().FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, roleName)
		}
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:                ids.New(),
		Username:          username,
		Email:             email,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		PasswordHash:      hash,
		RoleID:            role.ID,
		Active:            true,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.Active != nil {
		user.Active = *in.Active
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionUserCreated,
		ResourceType: "user", ResourceID: user.ID,
		NewValue: userSnapshot(user, role.Name),
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return user, nil
}

// UpdateUser applies partial updates. Gated by users.update.
func (s *Service) UpdateUser(ctx context.Context, caller Principal, userID string, in UpdateUserInput, meta RequestMeta) (*User, error) {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionUpdate, meta); err != nil {
		return nil, err
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	oldRole, err := s.store.Roles().Find(ctx, user.RoleID)
	if err != nil {
		return nil, err
	}
	before := userSnapshot(user, oldRole.Name)
	roleName := oldRole.Name

	if in.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		user.Email = email
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.RoleName != nil {
		role, err := s.store.Roles().FindByName(ctx, strings.TrimSpace(*in.RoleName))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *in.RoleName)
			}
			return nil, err
		}
		user.RoleID = role.ID
		roleName = role.Name
	}
	deactivated := false
	if in.Active != nil {
		deactivated = user.Active && !*in.Active
		user.Active = *in.Active
	}

	now := s.now().UTC()
	user.UpdatedAt = now
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}
	// A deactivated user may not keep any live session.
	if deactivated {
		if _, err := s.store.Sessions().RevokeAllForUser(ctx, user.ID, ""); err != nil {
			return nil, err
		}
	}

	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionUserUpdated,
		ResourceType: "user", ResourceID: user.ID,
		OldValue: before, NewValue: userSnapshot(user, roleName),
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return user, nil
}

// DeleteUser soft-deletes the account and kills its sessions. Gated by
// users.delete. The row is kept for the audit trail.
func (s *Service) DeleteUser(ctx context.Context, caller Principal, userID string, meta RequestMeta) error {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionDelete, meta); err != nil {
		return err
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.Users().SoftDelete(ctx, user.ID, now); err != nil {
		return err
	}
	if _, err := s.store.Sessions().RevokeAllForUser(ctx, user.ID, ""); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionUserDeleted,
		ResourceType: "user", ResourceID: user.ID,
		OldValue: map[string]any{"username": user.Username, "email": user.Email},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return nil
}

// ResetPassword sets a new password on behalf of an administrator and
// revokes every session of the target user. Gated by users.update.
func (s *Service) ResetPassword(ctx context.Context, caller Principal, userID, newPassword string, meta RequestMeta) error {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionUpdate, meta); err != nil {
		return err
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return err
	}
	if _, err := s.store.Sessions().RevokeAllForUser(ctx, user.ID, ""); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionPasswordReset,
		ResourceType: "user", ResourceID: user.ID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return nil
}

// UnlockAccount clears the failure counter and lock deadline. Gated by
// users.update.
func (s *Service) UnlockAccount(ctx context.Context, caller Principal, userID string, meta RequestMeta) error {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionUpdate, meta); err != nil {
		return err
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Users().Unlock(ctx, user.ID); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionAccountUnlocked,
		ResourceType: "user", ResourceID: user.ID,
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return nil
}

// GetUser loads one account. Gated by users.read.
func (s *Service) GetUser(ctx context.Context, caller Principal, userID string, meta RequestMeta) (*User, error) {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionRead, meta); err != nil {
		return nil, err
	}
	return s.store.Users().Find(ctx, userID)
}

// ListUsers returns all accounts. Gated by users.read.
func (s *Service) ListUsers(ctx context.Context, caller Principal, meta RequestMeta) ([]*User, error) {
	if err := s.Authorize(ctx, caller, ResourceUsers, ActionRead, meta); err != nil {
		return nil, err
	}
	return s.store.Users().List(ctx)
}

// CreateRole registers a role. Gated by roles.create.
func (s *Service) CreateRole(ctx context.Context, caller Principal, name, displayName string, perms []string, meta RequestMeta) (*Role, error) {
	if err := s.Authorize(ctx, caller, ResourceRoles, ActionCreate, meta); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		DisplayName: strings.TrimSpace(displayName),
		Permissions: NewPermissionSet(perms...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionRoleCreated,
		ResourceType: "role", ResourceID: role.ID,
		NewValue: map[string]any{"name": role.Name, "permissions": role.Permissions.Keys()},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: now,
	})
	return role, nil
}

// SetRolePermissions replaces a role's permission set. This is the only
// runtime path that mutates permissions. Gated by roles.update.
func (s *Service) SetRolePermissions(ctx context.Context, caller Principal, roleID string, perms []string, meta RequestMeta) error {
	if err := s.Authorize(ctx, caller, ResourceRoles, ActionUpdate, meta); err != nil {
		return err
	}
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	next := NewPermissionSet(perms...)
	if err := s.store.Roles().SetPermissions(ctx, role.ID, next); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionRolePermissionsSet,
		ResourceType: "role", ResourceID: role.ID,
		OldValue: map[string]any{"permissions": role.Permissions.Keys()},
		NewValue: map[string]any{"permissions": next.Keys()},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return nil
}

// DeleteRole removes a role; the store rejects system roles and roles still
// referenced by users. Gated by roles.delete.
func (s *Service) DeleteRole(ctx context.Context, caller Principal, roleID string, meta RequestMeta) error {
	if err := s.Authorize(ctx, caller, ResourceRoles, ActionDelete, meta); err != nil {
		return err
	}
	role, err := s.store.Roles().Find(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.store.Roles().Delete(ctx, role.ID); err != nil {
		return err
	}
	s.auditor.Record(ctx, AuditEntry{
		ActorID: actorID(caller), Action: ActionRoleDeleted,
		ResourceType: "role", ResourceID: role.ID,
		OldValue: map[string]any{"name": role.Name},
		IP: meta.IP, UserAgent: meta.UserAgent,
		Success: true, OccurredAt: s.now().UTC(),
	})
	return nil
}

// ListRoles returns all roles. Gated by roles.read.
func (s *Service) ListRoles(ctx context.Context, caller Principal, meta RequestMeta) ([]*Role, error) {
	if err := s.Authorize(ctx, caller, ResourceRoles, ActionRead, meta); err != nil {
		return nil, err
	}
	return s.store.Roles().List(ctx)
}

func userSnapshot(u *User, roleName string) map[string]any {
	return map[string]any{
		"username":  u.Username,
		"email":     u.Email,
		"role":      roleName,
		"is_active": u.Active,
	}
}
