package auth

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/trafficai/pkg/models"
)

// AuthHandlers contains the authentication handler methods
type AuthHandlers struct {
	tokenService *TokenService
	db           *sql.DB
}

// NewAuthHandlers creates a new authentication handlers instance
func NewAuthHandlers(tokenService *TokenService, db *sql.DB) *AuthHandlers {
	return &AuthHandlers{
		tokenService: tokenService,
		db:           db,
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	User       *UserInfo       `json:"user"`
	TokenPair  *TokenPair      `json:"tokens"`
	Workspaces []WorkspaceInfo `json:"workspaces"`
}

// UserInfo represents basic user information (no sensitive data)
type UserInfo struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkspaceInfo represents workspace membership information for the user
type WorkspaceInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"` // admin, team, user
}

// RefreshRequest represents the token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RegisterRequest represents the signup request. Registration creates the
// user plus their first workspace with an admin membership.
type RegisterRequest struct {
	Email         string  `json:"email" validate:"required,email"`
	Password      string  `json:"password" validate:"required,min=8"`
	FirstName     *string `json:"first_name,omitempty"`
	LastName      *string `json:"last_name,omitempty"`
	WorkspaceName string  `json:"workspace_name" validate:"required"`
}

// Login handles user authentication with email/password
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	// Get user by email
	user := &models.User{}
	err := h.db.QueryRow(`
		SELECT id, email, password_hash, first_name, last_name, is_active, created_at, updated_at
		FROM users WHERE LOWER(email) = $1
	`, models.NormalizeEmail(req.Email)).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid email or password",
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Database error",
		})
	}

	if !user.IsActive {
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "Account is deactivated",
		})
	}

	// Verify password
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid email or password",
		})
	}

	// Get user agent and IP for token tracking
	userAgent := c.Request().Header.Get("User-Agent")
	ipAddress := c.RealIP()

	// Create token pair
	tokenPair, err := h.tokenService.CreateTokenPair(user, userAgent, ipAddress)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to create session",
		})
	}

	// Record login time; non-critical
	_, _ = h.db.Exec("UPDATE users SET last_login_at = NOW() WHERE id = $1", user.ID)

	// Get user's workspaces and roles
	workspaces, err := h.getUserWorkspaces(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to get user workspaces",
		})
	}

	response := LoginResponse{
		User:       userInfo(user),
		TokenPair:  tokenPair,
		Workspaces: workspaces,
	}

	return c.JSON(http.StatusOK, response)
}

// Register handles new account signup. It creates the user, their first
// workspace, and an admin membership in one transaction.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	email := models.NormalizeEmail(req.Email)
	if email == "" || len(req.Password) < 8 || strings.TrimSpace(req.WorkspaceName) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Email, password (min 8 chars), and workspace name are required",
		})
	}

	// Check for existing account
	var exists bool
	err := h.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = $1)", email).Scan(&exists)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Database error",
		})
	}
	if exists {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "An account with this email already exists",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to hash password",
		})
	}

	tx, err := h.db.Begin()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Database transaction error",
		})
	}
	defer tx.Rollback()

	user := &models.User{Email: email, FirstName: req.FirstName, LastName: req.LastName, IsActive: true}
	err = tx.QueryRow(`
		INSERT INTO users (email, password_hash, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, email, string(hashedPassword), req.FirstName, req.LastName).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to create user",
		})
	}

	var workspaceID int64
	err = tx.QueryRow(`
		INSERT INTO workspaces (name, is_active, created_by_user_id, created_at, updated_at)
		VALUES ($1, true, $2, NOW(), NOW())
		RETURNING id
	`, strings.TrimSpace(req.WorkspaceName), user.ID).Scan(&workspaceID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to create workspace",
		})
	}

	_, err = tx.Exec(`
		INSERT INTO workspace_members (user_id, workspace_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
	`, user.ID, workspaceID, models.RoleAdmin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to create workspace membership",
		})
	}

	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to commit registration",
		})
	}

	// Log the new user straight in
	tokenPair, err := h.tokenService.CreateTokenPair(user, c.Request().Header.Get("User-Agent"), c.RealIP())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Account created but failed to create session",
		})
	}

	response := LoginResponse{
		User:      userInfo(user),
		TokenPair: tokenPair,
		Workspaces: []WorkspaceInfo{
			{ID: workspaceID, Name: strings.TrimSpace(req.WorkspaceName), Role: models.RoleAdmin},
		},
	}

	return c.JSON(http.StatusCreated, response)
}

// Logout handles user logout (revokes tokens)
func (h *AuthHandlers) Logout(c echo.Context) error {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Authorization header required",
		})
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	user, err := h.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid token",
		})
	}

	// Parse JWT to get token hash (we need this to revoke the specific session)
	claims, err := h.tokenService.parseTokenClaims(tokenString)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid token",
		})
	}

	var req struct {
		RefreshToken string `json:"refresh_token,omitempty"`
		LogoutAll    bool   `json:"logout_all,omitempty"`
	}
	c.Bind(&req)

	if req.LogoutAll {
		if err := h.tokenService.RevokeAllUserTokens(user.ID); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "Failed to logout from all devices",
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Logged out from all devices",
		})
	}

	// Single session logout - revoke current access token
	if err := h.tokenService.RevokeToken(claims.TokenHash, "session"); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to revoke session",
		})
	}

	// Also revoke the refresh token if provided
	if req.RefreshToken != "" {
		refreshTokenHash := h.tokenService.hashToken(req.RefreshToken)
		h.tokenService.RevokeToken(refreshTokenHash, "refresh")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me returns information about the currently authenticated user
func (h *AuthHandlers) Me(c echo.Context) error {
	user, ok := GetUserFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "User not found in context",
		})
	}

	workspaces, err := h.getUserWorkspaces(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to get user workspaces",
		})
	}

	response := struct {
		User       *UserInfo       `json:"user"`
		Workspaces []WorkspaceInfo `json:"workspaces"`
	}{
		User:       userInfo(user),
		Workspaces: workspaces,
	}

	return c.JSON(http.StatusOK, response)
}

// RefreshToken handles token refresh using a valid refresh token
func (h *AuthHandlers) RefreshToken(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}

	userAgent := c.Request().Header.Get("User-Agent")
	ipAddress := c.RealIP()

	tokenPair, err := h.tokenService.RefreshTokenPair(req.RefreshToken, userAgent, ipAddress)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid or expired refresh token",
		})
	}

	return c.JSON(http.StatusOK, tokenPair)
}

// getUserWorkspaces fetches all workspace memberships for a user
func (h *AuthHandlers) getUserWorkspaces(userID int64) ([]WorkspaceInfo, error) {
	rows, err := h.db.Query(`
		SELECT w.id, w.name, wm.role
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1 AND w.is_active = true
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workspaces := make([]WorkspaceInfo, 0)
	for rows.Next() {
		var ws WorkspaceInfo
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Role); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}

	return workspaces, rows.Err()
}

func userInfo(user *models.User) *UserInfo {
	return &UserInfo{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
