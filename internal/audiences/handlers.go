package audiences

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler proxies audience search and credit queries to the upstream
// marketing-data API and serves locally stored contacts.
type Handler struct {
	client   *Client
	contacts *ContactsRepo
}

// NewHandler creates a new audiences handler
func NewHandler(client *Client, contacts *ContactsRepo) *Handler {
	return &Handler{client: client, contacts: contacts}
}

// Search handles POST /api/v1/audiences/search
func (h *Handler) Search(c echo.Context) error {
	var query SearchQuery
	if err := c.Bind(&query); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 25
	}

	result, err := h.client.Search(c.Request().Context(), query)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return echo.NewHTTPError(http.StatusPaymentRequired, "Insufficient audience credits")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "Audience search failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"people": result.People,
		"meta": map[string]interface{}{
			"total": result.Total,
			"count": len(result.People),
		},
	})
}

// ListSegments handles GET /api/v1/audiences/segments
func (h *Handler) ListSegments(c echo.Context) error {
	segments, err := h.client.ListSegments(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to list segments")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"segments": segments,
		"meta": map[string]interface{}{
			"count": len(segments),
		},
	})
}

// GetSegment handles GET /api/v1/audiences/segments/:id
func (h *Handler) GetSegment(c echo.Context) error {
	segment, err := h.client.GetSegment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to fetch segment")
	}

	return c.JSON(http.StatusOK, segment)
}

type createSegmentRequest struct {
	Name   string      `json:"name"`
	Filter SearchQuery `json:"filter"`
}

// CreateSegment handles POST /api/v1/audiences/segments
func (h *Handler) CreateSegment(c echo.Context) error {
	var req createSegmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Segment name is required")
	}

	segment, err := h.client.CreateSegment(c.Request().Context(), req.Name, req.Filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to create segment")
	}

	return c.JSON(http.StatusCreated, segment)
}

// DeleteSegment handles DELETE /api/v1/audiences/segments/:id
func (h *Handler) DeleteSegment(c echo.Context) error {
	if err := h.client.DeleteSegment(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to delete segment")
	}

	return c.NoContent(http.StatusNoContent)
}

// Credits handles GET /api/v1/audiences/credits
func (h *Handler) Credits(c echo.Context) error {
	credits, err := h.client.Credits(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to fetch audience credits")
	}

	return c.JSON(http.StatusOK, credits)
}

// ListContacts handles GET /api/v1/audiences/contacts (locally stored
// enrichment results)
func (h *Handler) ListContacts(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	offset := 0
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := 50
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	contacts, err := h.contacts.List(c.Request().Context(), workspaceID, offset, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list contacts")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"contacts": contacts,
		"meta": map[string]interface{}{
			"count":  len(contacts),
			"offset": offset,
			"limit":  limit,
		},
	})
}
