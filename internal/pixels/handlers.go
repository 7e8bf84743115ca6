package pixels

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler exposes pixel CRUD endpoints for the dashboard
type Handler struct {
	repo *Repo
	// publicBaseURL is the origin embedded in install snippets
	publicBaseURL string
}

// NewHandler creates a new pixels handler
func NewHandler(repo *Repo, publicBaseURL string) *Handler {
	return &Handler{repo: repo, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

type pixelRequest struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// snippet renders the script tag customers paste into their site.
func (h *Handler) snippet(pixelKey string) string {
	return fmt.Sprintf(`<script async src="%s/pixel.js" data-pixel-key="%s"></script>`, h.publicBaseURL, pixelKey)
}

// Create handles POST /api/v1/pixels
func (h *Handler) Create(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	var req pixelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Domain) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Name and domain are required")
	}

	pixel, err := h.repo.Create(c.Request().Context(), workspaceID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Domain))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create pixel")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"pixel":   pixel,
		"snippet": h.snippet(pixel.PixelKey),
	})
}

// List handles GET /api/v1/pixels
func (h *Handler) List(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	pixels, err := h.repo.List(c.Request().Context(), workspaceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list pixels")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"pixels": pixels,
		"meta": map[string]interface{}{
			"count": len(pixels),
		},
	})
}

// Get handles GET /api/v1/pixels/{id}
func (h *Handler) Get(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid pixel ID")
	}

	pixel, err := h.repo.Get(c.Request().Context(), workspaceID, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve pixel")
	}
	if pixel == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Pixel not found")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"pixel":   pixel,
		"snippet": h.snippet(pixel.PixelKey),
	})
}

// Update handles PUT /api/v1/pixels/{id}
func (h *Handler) Update(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid pixel ID")
	}

	var req pixelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Domain) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Name and domain are required")
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	pixel, err := h.repo.Update(c.Request().Context(), workspaceID, id, strings.TrimSpace(req.Name), strings.TrimSpace(req.Domain), isActive)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update pixel")
	}
	if pixel == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Pixel not found")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"pixel":   pixel,
		"snippet": h.snippet(pixel.PixelKey),
	})
}

// Delete handles DELETE /api/v1/pixels/{id}
func (h *Handler) Delete(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid pixel ID")
	}

	if err := h.repo.Delete(c.Request().Context(), workspaceID, id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Pixel not found")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"status": "deleted"})
}
