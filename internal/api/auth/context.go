package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/trafficai/pkg/models"
)

// ContextKey represents keys for context values
type ContextKey string

const (
	// Context keys
	UserContextKey      ContextKey = "user"
	WorkspaceContextKey ContextKey = "workspace"
)

// GetUserFromContext extracts the authenticated user set by RequireAuth.
func GetUserFromContext(c echo.Context) (*models.User, bool) {
	user, ok := c.Get(string(UserContextKey)).(*models.User)
	return user, ok
}

// GetWorkspaceFromContext extracts the workspace set by the workspace-context
// middleware.
func GetWorkspaceFromContext(c echo.Context) (*models.Workspace, bool) {
	ws, ok := c.Get(string(WorkspaceContextKey)).(*models.Workspace)
	return ws, ok
}

// GetWorkspaceIDFromContext returns the workspace id set by middleware.
func GetWorkspaceIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get("workspace_id").(int64)
	return id, ok
}

// RequireUser returns the authenticated user or a 401 error for handlers that
// must not run without one.
func RequireUser(c echo.Context) (*models.User, error) {
	user, ok := GetUserFromContext(c)
	if !ok || user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "user not found in context")
	}
	return user, nil
}

// RoleAtLeast reports whether role meets the required level. Admin outranks
// team, team outranks user.
func RoleAtLeast(role, required string) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role string) int {
	switch role {
	case models.RoleAdmin:
		return 3
	case models.RoleTeam:
		return 2
	case models.RoleUser:
		return 1
	default:
		return 0
	}
}
