package httpapi

import (
	"net/http"
	"strings"

	"villagegrid.org/internal/auth"
)

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		users, err := a.auth.ListUsers(r.Context(), p, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if users == nil {
			users = []*auth.User{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		var in auth.CreateUserInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.auth.CreateUser(r.Context(), p, in, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleUserResource dispatches /v1/users/{id} and the two action
// sub-resources /v1/users/{id}/password and /v1/users/{id}/unlock.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		a.userByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "password":
		a.resetUserPassword(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "unlock":
		a.unlockUser(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userByID(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.auth.GetUser(r.Context(), p, userID, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		var in auth.UpdateUserInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.auth.UpdateUser(r.Context(), p, userID, in, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.auth.DeleteUser(r.Context(), p, userID, requestMeta(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (a *API) resetUserPassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ResetPassword(r.Context(), p, userID, req.NewPassword, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

func (a *API) unlockUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.auth.UnlockAccount(r.Context(), p, userID, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unlocked"})
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Permissions []string `json:"permissions"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		roles, err := a.auth.ListRoles(r.Context(), p, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if roles == nil {
			roles = []*auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.auth.CreateRole(r.Context(), p, req.Name, req.DisplayName, req.Permissions, requestMeta(r))
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// handleRoleResource dispatches /v1/roles/{id} and
// /v1/roles/{id}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		if err := a.auth.DeleteRole(r.Context(), p, parts[0], requestMeta(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		p, ok := a.principal(w, r)
		if !ok {
			return
		}
		var req setPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.auth.SetRolePermissions(r.Context(), p, parts[0], req.Permissions, requestMeta(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "permissions_updated"})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
