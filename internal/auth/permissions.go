package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// PermissionAll is the reserved wildcard that grants every action on every
// resource. It is intended only for the highest-privilege role.
const PermissionAll = "all"

// Resource names used by the service endpoints.
const (
	ResourceUsers      = "users"
	ResourceRoles      = "roles"
	ResourceSessions   = "sessions"
	ResourceVillages   = "villages"
	ResourceProperties = "properties"
	ResourceAuditLog   = "audit_log"
)

// Action names.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// PermissionSet is the canonical permission representation: a set of
// "resource.action" keys, plus the optional wildcard. All role permission
// data collapses into this one shape.
type PermissionSet map[string]struct{}

// PermissionKey builds the canonical "resource.action" form.
func PermissionKey(resource, action string) string {
	return resource + "." + action
}

// NewPermissionSet normalizes the given keys into a set. Empty and duplicate
// keys are dropped, casing is folded.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(strings.ToLower(key))
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

// Allows is the single authorization decision function. The wildcard
// short-circuits every other check.
func (s PermissionSet) Allows(resource, action string) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[PermissionAll]; ok {
		return true
	}
	_, ok := s[PermissionKey(resource, action)]
	return ok
}

// Keys returns the sorted key list, the form embedded into access tokens.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted string array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Keys())
}

// UnmarshalJSON accepts a string array.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewPermissionSet(keys...)
	return nil
}
