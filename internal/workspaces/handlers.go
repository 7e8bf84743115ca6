package workspaces

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trafficai/internal/api/auth"
)

type WorkspaceHandlers struct {
	service *WorkspaceService
	logger  *log.Logger
}

func NewWorkspaceHandlers(service *WorkspaceService, logger *log.Logger) *WorkspaceHandlers {
	return &WorkspaceHandlers{
		service: service,
		logger:  logger,
	}
}

// CreateWorkspace creates a new workspace (available to all authenticated users)
func (h *WorkspaceHandlers) CreateWorkspace(c echo.Context) error {
	user, err := auth.RequireUser(c)
	if err != nil {
		return err
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if len(req.Name) > 255 {
		return echo.NewHTTPError(http.StatusBadRequest, "name must be less than 255 characters")
	}
	if len(req.Description) > 1000 {
		return echo.NewHTTPError(http.StatusBadRequest, "description must be less than 1000 characters")
	}

	ws, err := h.service.CreateWorkspace(user.ID, req.Name, req.Description)
	if err != nil {
		h.logger.Printf("Error creating workspace: %v", err)
		if strings.Contains(err.Error(), "already exists") {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":   "Workspace created successfully",
		"workspace": ws,
	})
}

// GetWorkspace returns the current workspace
func (h *WorkspaceHandlers) GetWorkspace(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	ws, err := h.service.GetWorkspace(workspaceID)
	if err != nil {
		h.logger.Printf("Error fetching workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch workspace")
	}
	if ws == nil {
		return echo.NewHTTPError(http.StatusNotFound, "workspace not found")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workspace": ws,
	})
}

// UpdateWorkspace updates the current workspace's name and description
func (h *WorkspaceHandlers) UpdateWorkspace(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	ws, err := h.service.UpdateWorkspace(workspaceID, req.Name, req.Description)
	if err != nil {
		h.logger.Printf("Error updating workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update workspace")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workspace": ws,
	})
}

// ListMembers returns the current workspace's members
func (h *WorkspaceHandlers) ListMembers(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	members, err := h.service.ListMembers(workspaceID)
	if err != nil {
		h.logger.Printf("Error listing members for workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list members")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"members": members,
		"meta": map[string]interface{}{
			"count": len(members),
		},
	})
}

// AddMember adds an existing user to the workspace by email
func (h *WorkspaceHandlers) AddMember(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if req.Role == "" {
		req.Role = "user"
	}

	member, err := h.service.AddMember(workspaceID, req.Email, req.Role)
	if err != nil {
		if strings.Contains(err.Error(), "no active user") || strings.Contains(err.Error(), "invalid role") {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Printf("Error adding member to workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to add member")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"member": member,
	})
}

// UpdateMemberRole changes a member's role
func (h *WorkspaceHandlers) UpdateMemberRole(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.service.UpdateMemberRole(workspaceID, userID, req.Role); err != nil {
		if strings.Contains(err.Error(), "invalid role") ||
			strings.Contains(err.Error(), "not a member") ||
			strings.Contains(err.Error(), "at least one admin") {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Printf("Error updating role in workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update member role")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Role updated successfully",
	})
}

// RemoveMember removes a user from the workspace
func (h *WorkspaceHandlers) RemoveMember(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace context required")
	}

	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	if err := h.service.RemoveMember(workspaceID, userID); err != nil {
		if strings.Contains(err.Error(), "not a member") ||
			strings.Contains(err.Error(), "at least one admin") {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Printf("Error removing member from workspace %d: %v", workspaceID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to remove member")
	}

	return c.NoContent(http.StatusNoContent)
}
