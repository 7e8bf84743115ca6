package chat

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trafficai/pkg/models"
)

// Handler exposes the conversation endpoints: the unauthenticated widget
// surface consumed by embedded chat clients, and the authenticated dashboard
// surface used by agents.
type Handler struct {
	service *Service
}

// NewHandler creates a new chat handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type startConversationRequest struct {
	CustomerName  *string `json:"customer_name"`
	CustomerEmail string  `json:"customer_email"`
}

type postMessageRequest struct {
	Body       string  `json:"body"`
	SenderName *string `json:"sender_name"`
	IsPrivate  bool    `json:"is_private"`
}

// StartConversation handles POST /api/v1/widget/conversations.
// Returns 200 with the existing conversation when the customer already has
// an open thread, 201 when a new one was created.
func (h *Handler) StartConversation(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	conv, reused, err := h.service.StartConversation(c.Request().Context(), workspaceID, req.CustomerName, req.CustomerEmail)
	if err != nil {
		if errors.Is(err, ErrEmailRequired) {
			return echo.NewHTTPError(http.StatusBadRequest, "Customer email is required")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to start conversation")
	}

	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	return c.JSON(status, conv)
}

// GetConversation handles GET /api/v1/widget/conversations/{id}
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.service.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve conversation")
	}
	return c.JSON(http.StatusOK, conv)
}

// FindOpenConversation handles GET /api/v1/widget/conversations/open?email=
func (h *Handler) FindOpenConversation(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}

	email := c.QueryParam("email")
	if email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email is required")
	}

	conv, err := h.service.FindOpenConversation(c.Request().Context(), workspaceID, email)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "No open conversation")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to look up conversation")
	}
	return c.JSON(http.StatusOK, conv)
}

// GetVisibleMessages handles GET /api/v1/widget/conversations/{id}/messages.
// Private agent notes never appear in this response.
func (h *Handler) GetVisibleMessages(c echo.Context) error {
	conversationID := c.Param("id")

	if _, err := h.service.GetConversation(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve conversation")
	}

	messages, err := h.service.VisibleMessages(c.Request().Context(), conversationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve messages")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"meta": map[string]interface{}{
			"conversationId": conversationID,
			"count":          len(messages),
		},
	})
}

// PostCustomerMessage handles POST /api/v1/widget/conversations/{id}/messages
func (h *Handler) PostCustomerMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	msg, err := h.service.PostMessage(c.Request().Context(), c.Param("id"), req.Body, models.SenderCustomer, req.SenderName, false)
	if err != nil {
		switch {
		case errors.Is(err, ErrConversationNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		case errors.Is(err, ErrConversationClosed):
			return echo.NewHTTPError(http.StatusConflict, "Conversation is closed")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send message")
		}
	}

	return c.JSON(http.StatusCreated, msg)
}

// GetUnreadCount handles GET /api/v1/widget/conversations/{id}/unread?since=
func (h *Handler) GetUnreadCount(c echo.Context) error {
	since := time.Time{}
	if sinceStr := c.QueryParam("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid since timestamp")
		}
		since = parsed
	}

	count, err := h.service.UnreadCount(c.Request().Context(), c.Param("id"), since)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to count unread messages")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"count": count})
}

// ListConversations handles GET /api/v1/conversations (dashboard)
func (h *Handler) ListConversations(c echo.Context) error {
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

	conversations, err := h.service.ListConversations(c.Request().Context(), workspaceID, offset, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list conversations")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"meta": map[string]interface{}{
			"count":  len(conversations),
			"offset": offset,
			"limit":  limit,
		},
	})
}

// GetAllMessages handles GET /api/v1/conversations/{id}/messages (dashboard,
// includes private notes)
func (h *Handler) GetAllMessages(c echo.Context) error {
	conversationID := c.Param("id")

	if _, err := h.service.GetConversation(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve conversation")
	}

	messages, err := h.service.AllMessages(c.Request().Context(), conversationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve messages")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"meta": map[string]interface{}{
			"conversationId": conversationID,
			"count":          len(messages),
		},
	})
}

// PostAgentMessage handles POST /api/v1/conversations/{id}/messages
func (h *Handler) PostAgentMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	senderName := req.SenderName
	if senderName == nil {
		if email, ok := c.Get("user_email").(string); ok && email != "" {
			senderName = &email
		}
	}

	msg, err := h.service.PostMessage(c.Request().Context(), c.Param("id"), req.Body, models.SenderAgent, senderName, req.IsPrivate)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send message")
	}

	return c.JSON(http.StatusCreated, msg)
}

// CloseConversation handles POST /api/v1/conversations/{id}/close
func (h *Handler) CloseConversation(c echo.Context) error {
	if err := h.service.CloseConversation(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to close conversation")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "closed"})
}

// MarkConversationRead handles PUT /api/v1/conversations/{id}/read
func (h *Handler) MarkConversationRead(c echo.Context) error {
	userID, ok := c.Get("user_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing user context")
	}

	if err := h.service.MarkRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to mark conversation read")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "read"})
}

// GetUnreadSummary handles GET /api/v1/notifications/unread (dashboard badge
// polling)
func (h *Handler) GetUnreadSummary(c echo.Context) error {
	workspaceID, ok := c.Get("workspace_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing workspace context")
	}
	userID, ok := c.Get("user_id").(int64)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing user context")
	}

	entries, err := h.service.UnreadSummary(c.Request().Context(), workspaceID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve unread counts")
	}

	total := 0
	for _, entry := range entries {
		total += entry.UnreadCount
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": entries,
		"meta": map[string]interface{}{
			"total": total,
		},
	})
}
