package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"poise.dev/internal/audit"
	"poise.dev/internal/auth"
)

type createRoleRequest struct {
	Name string `json:"name"`
}

type renameRoleRequest struct {
	Name string `json:"name"`
}

type setPermissionRequest struct {
	Permission int  `json:"permission"`
	Enabled    bool `json:"enabled"`
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRoles(w, r)
	case http.MethodPost:
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || roleID <= 0 {
		writeError(w, r, http.StatusNotFound, "role not found")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getRole(w, r, roleID)
		case http.MethodPut:
			a.renameRole(w, r, roleID)
		case http.MethodDelete:
			a.deleteRole(w, r, roleID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setRolePermission(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermReadRole) {
		return
	}
	roles, err := a.store.Roles(r.Context()).List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "role listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request, roleID int64) {
	if !a.ensurePermissions(w, r, auth.PermReadRole) {
		return
	}
	role, err := a.store.Roles(r.Context()).Find(r.Context(), roleID)
	if err != nil {
		handleRoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermCreateRole) {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	role := &auth.Role{Name: req.Name}
	if err := a.store.Roles(r.Context()).Create(r.Context(), role); err != nil {
		handleRoleError(w, r, err)
		return
	}
	a.auditRole(r, "role.created", role.ID, map[string]any{"name": role.Name})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%d", role.ID))
	writeJSON(w, http.StatusCreated, auth.RoleSummary{ID: role.ID, Name: role.Name})
}

func (a *API) renameRole(w http.ResponseWriter, r *http.Request, roleID int64) {
	if !a.ensurePermissions(w, r, auth.PermUpdateRole) {
		return
	}
	var req renameRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if err := a.store.Roles(r.Context()).Rename(r.Context(), roleID, req.Name); err != nil {
		handleRoleError(w, r, err)
		return
	}
	a.auditRole(r, "role.renamed", roleID, map[string]any{"name": req.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request, roleID int64) {
	if !a.ensurePermissions(w, r, auth.PermDeleteRole) {
		return
	}
	if err := a.store.Roles(r.Context()).Delete(r.Context(), roleID); err != nil {
		handleRoleError(w, r, err)
		return
	}
	a.auditRole(r, "role.deleted", roleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setRolePermission(w http.ResponseWriter, r *http.Request, roleID int64) {
	if !a.ensurePermissions(w, r, auth.PermUpdateRole) {
		return
	}
	var req setPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm := auth.Permission(req.Permission)
	if !perm.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown permission code")
		return
	}
	if err := a.store.Roles(r.Context()).SetPermission(r.Context(), roleID, perm, req.Enabled); err != nil {
		handleRoleError(w, r, err)
		return
	}
	a.auditRole(r, "role.permission.changed", roleID, map[string]any{
		"permission": req.Permission,
		"enabled":    req.Enabled,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) auditRole(r *http.Request, event string, roleID int64, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["role_id"] = roleID
	_ = audit.LogEvent(r.Context(), event, fields)
}

func handleRoleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrRoleInUse):
		writeErrorCode(w, r, http.StatusConflict, "ROLE_IN_USE", "role still has assigned users")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "role not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "role operation failed")
	}
}
