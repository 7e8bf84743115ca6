package auth

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trafficai/pkg/models"
)

// RequireAuth is a helper function that creates authentication middleware
// This can be used directly without creating an AuthMiddleware instance
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Extract token from Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			// Check Bearer token format
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			user, err := tokenService.ValidateAccessToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			// Add user to context, plus the ids handlers read directly
			c.Set(string(UserContextKey), user)
			c.Set("user_id", user.ID)
			c.Set("user_email", user.Email)

			return next(c)
		}
	}
}

// AuthMiddleware holds the dependencies for auth middleware
type AuthMiddleware struct {
	tokenService *TokenService
	db           *sql.DB
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokenService *TokenService, db *sql.DB) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		db:           db,
	}
}

// RequireAuth middleware validates that a valid JWT token is present
func (am *AuthMiddleware) RequireAuth() echo.MiddlewareFunc {
	return RequireAuth(am.tokenService)
}

// BuildWorkspaceContextFromHeader extracts the workspace id from the
// X-Workspace-Context header and validates the workspace exists.
func (am *AuthMiddleware) BuildWorkspaceContextFromHeader() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			workspaceIDStr := c.Request().Header.Get("X-Workspace-Context")
			if workspaceIDStr == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "Workspace context header required")
			}

			workspaceID, err := strconv.ParseInt(workspaceIDStr, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid workspace ID in header")
			}

			workspace := &models.Workspace{}
			err = am.db.QueryRow(`
				SELECT id, name, description, is_active, created_at, updated_at
				FROM workspaces WHERE id = $1
			`, workspaceID).Scan(&workspace.ID, &workspace.Name, &workspace.Description, &workspace.IsActive, &workspace.CreatedAt, &workspace.UpdatedAt)

			if err != nil {
				if err == sql.ErrNoRows {
					return echo.NewHTTPError(http.StatusNotFound, "Workspace not found")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch workspace")
			}

			if !workspace.IsActive {
				return echo.NewHTTPError(http.StatusForbidden, "Workspace is deactivated")
			}

			c.Set(string(WorkspaceContextKey), workspace)
			c.Set("workspace_id", workspace.ID)
			return next(c)
		}
	}
}

// ValidateWorkspaceAccess checks that the authenticated user is a member of
// the workspace in context, and stores their role for downstream handlers.
// Must run after RequireAuth and BuildWorkspaceContextFromHeader.
func (am *AuthMiddleware) ValidateWorkspaceAccess() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := RequireUser(c)
			if err != nil {
				return err
			}

			workspaceID, ok := GetWorkspaceIDFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
			}

			var role string
			err = am.db.QueryRow(`
				SELECT role FROM workspace_members
				WHERE user_id = $1 AND workspace_id = $2
			`, user.ID, workspaceID).Scan(&role)

			if err != nil {
				if err == sql.ErrNoRows {
					return echo.NewHTTPError(http.StatusForbidden, "No access to this workspace")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check workspace access")
			}

			c.Set("workspace_role", role)
			return next(c)
		}
	}
}

// RequireRole enforces a minimum workspace role. Must run after
// ValidateWorkspaceAccess.
func (am *AuthMiddleware) RequireRole(required string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get("workspace_role").(string)
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden, "Missing workspace role")
			}
			if !RoleAtLeast(role, required) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}

// BuildWorkspaceContextFromPixelKey resolves the workspace for unauthenticated
// widget requests from the X-Pixel-Key header. The key is issued when a
// tracking pixel is installed on the customer's site.
func (am *AuthMiddleware) BuildWorkspaceContextFromPixelKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			pixelKey := c.Request().Header.Get("X-Pixel-Key")
			if pixelKey == "" {
				pixelKey = c.QueryParam("pixel_key")
			}
			if pixelKey == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "Pixel key required")
			}

			var workspaceID int64
			var isActive bool
			err := am.db.QueryRow(`
				SELECT workspace_id, is_active FROM pixels WHERE pixel_key = $1
			`, pixelKey).Scan(&workspaceID, &isActive)

			if err != nil {
				if err == sql.ErrNoRows {
					return echo.NewHTTPError(http.StatusUnauthorized, "Unknown pixel key")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to resolve pixel key")
			}

			if !isActive {
				return echo.NewHTTPError(http.StatusForbidden, "Pixel is deactivated")
			}

			c.Set("workspace_id", workspaceID)
			c.Set("pixel_key", pixelKey)
			return next(c)
		}
	}
}
