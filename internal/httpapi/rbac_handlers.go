package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"finnexus.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Level       int      `json:"level"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	Role         string `json:"role"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

type removeRoleRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.engine.Roles(r.Context())
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermRoleManage, nil) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		role, err := a.engine.CreateRole(r.Context(), &auth.Role{
			Name:        req.Name,
			DisplayName: req.DisplayName,
			Description: req.Description,
			Permissions: req.Permissions,
			Level:       req.Level,
		}, actorID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.Name))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleName := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		role, err := a.engine.Role(r.Context(), roleName)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		if !a.ensurePermission(w, r, auth.PermRoleManage, nil) {
			return
		}
		var req updateRolePermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		if err := a.engine.UpdateRolePermissions(r.Context(), roleName, req.Permissions, actorID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":        roleName,
			"permissions": req.Permissions,
		})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.handleDeactivateUser(w, r, userID)
	case parts[1] == "roles" && len(parts) == 2:
		a.handleUserRoles(w, r, userID)
	case parts[1] == "roles" && len(parts) == 3:
		a.handleUserRoleRemove(w, r, userID, parts[2])
	case parts[1] == "permissions" && len(parts) == 2:
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.allowSelfOr(w, r, userID, auth.PermUserRead) {
			return
		}
		assignments, err := a.engine.UserRoles(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": userID,
			"roles":   assignments,
		})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermRoleAssign, nil) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Role) == "" {
			writeError(w, r, http.StatusBadRequest, "role is required")
			return
		}
		var rc *auth.ResourceContext
		if req.ResourceType != "" || req.ResourceID != "" {
			rc = &auth.ResourceContext{Type: req.ResourceType, ID: req.ResourceID}
		}
		actorID, _ := auth.UserIDFromContext(r.Context())
		assignment, err := a.engine.AssignRole(r.Context(), userID, req.Role, actorID, rc)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRoleRemove(w http.ResponseWriter, r *http.Request, userID, roleName string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRoleAssign, nil) {
		return
	}

	var req removeRoleRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	actorID, _ := auth.UserIDFromContext(r.Context())
	removed, err := a.engine.RemoveRole(r.Context(), userID, roleName, actorID, req.Reason)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"role":    roleName,
		"removed": removed,
	})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.allowSelfOr(w, r, userID, auth.PermUserRead) {
		return
	}

	summary, err := a.engine.PermissionsSummary(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request, userID string) {
	if !a.ensurePermission(w, r, auth.PermUserDelete, nil) {
		return
	}

	actorID, _ := auth.UserIDFromContext(r.Context())
	if err := a.sessions.Deactivate(r.Context(), userID, actorID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"status":  auth.UserStatusInactive,
	})
}

// allowSelfOr admits the subject themselves, otherwise requires the given
// permission.
func (a *API) allowSelfOr(w http.ResponseWriter, r *http.Request, subjectID, permission string) bool {
	callerID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if callerID == subjectID {
		return true
	}
	return a.ensurePermission(w, r, permission, nil)
}
