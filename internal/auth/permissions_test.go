package auth

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestPermissionSetAllows(t *testing.T) {
	tests := []struct {
		name     string
		keys     []string
		resource string
		action   string
		want     bool
	}{
		{"exact match", []string{"users.read"}, "users", "read", true},
		{"missing action", []string{"users.read"}, "users", "delete", false},
		{"missing resource", []string{"users.read"}, "roles", "read", false},
		{"wildcard grants everything", []string{"all"}, "audit_log", "delete", true},
		{"empty set denies", nil, "users", "read", false},
		{"case folded on construction", []string{"Users.Read"}, "users", "read", true},
		{"whitespace trimmed", []string{"  users.read  "}, "users", "read", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewPermissionSet(tt.keys...)
			if got := set.Allows(tt.resource, tt.action); got != tt.want {
				t.Fatalf("Allows(%q, %q) = %v, want %v", tt.resource, tt.action, got, tt.want)
			}
		})
	}
}

func TestNewPermissionSetDedupes(t *testing.T) {
	set := NewPermissionSet("users.read", "USERS.READ", "", "users.read")
	if len(set) != 1 {
		t.Fatalf("expected 1 key, got %d: %v", len(set), set.Keys())
	}
}

func TestPermissionSetJSONRoundTrip(t *testing.T) {
	set := NewPermissionSet("users.read", "roles.update", "all")
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["all","roles.update","users.read"]` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	var decoded PermissionSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(decoded.Keys(), set.Keys()) {
		t.Fatalf("round trip mismatch: %v vs %v", decoded.Keys(), set.Keys())
	}
}

func TestPrincipalCan(t *testing.T) {
	p := Principal{
		User: &User{ID: "u1"},
		Role: &Role{Name: "staff", Permissions: NewPermissionSet("users.read")},
	}
	if !p.Can(ResourceUsers, ActionRead) {
		t.Fatal("expected users.read to be allowed")
	}
	if p.Can(ResourceUsers, ActionDelete) {
		t.Fatal("expected users.delete to be denied")
	}
	if (Principal{}).Can(ResourceUsers, ActionRead) {
		t.Fatal("principal without role must be denied")
	}
}
