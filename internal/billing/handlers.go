package billing

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trafficai/internal/api/auth"
)

// Handler exposes subscription management endpoints for the dashboard.
type Handler struct {
	service *SubscriptionService
}

// NewHandler creates subscription handlers backed by the given service.
func NewHandler(service *SubscriptionService) *Handler {
	return &Handler{service: service}
}

type createSubscriptionRequest struct {
	PlanType string `json:"plan_type"`
}

// CreateSubscription starts a checkout subscription for the workspace.
// POST /api/v1/billing/subscription
func (h *Handler) CreateSubscription(c echo.Context) error {
	user, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Workspace context required")
	}

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.PlanType != "monthly" && req.PlanType != "yearly" {
		return echo.NewHTTPError(http.StatusBadRequest, "plan_type must be monthly or yearly")
	}

	sub, err := h.service.CreateWorkspaceSubscription(workspaceID, user.ID, req.PlanType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to create subscription: "+err.Error())
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"subscription": sub,
	})
}

// GetSubscription returns the workspace's current subscription.
// GET /api/v1/billing/subscription
func (h *Handler) GetSubscription(c echo.Context) error {
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Workspace context required")
	}

	sub, err := h.service.GetWorkspaceSubscription(workspaceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get subscription")
	}
	if sub == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Workspace has no subscription")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription": sub,
	})
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// CancelSubscription cancels the workspace's subscription.
// DELETE /api/v1/billing/subscription
func (h *Handler) CancelSubscription(c echo.Context) error {
	user, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Workspace context required")
	}

	req := cancelSubscriptionRequest{AtPeriodEnd: true}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	sub, err := h.service.CancelWorkspaceSubscription(workspaceID, user.ID, req.AtPeriodEnd)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to cancel subscription: "+err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription": sub,
	})
}

// SubscriptionGetter is the lookup RequirePaidPlan needs; SubscriptionService
// satisfies it.
type SubscriptionGetter interface {
	GetWorkspaceSubscription(workspaceID int64) (*Subscription, error)
}

// RequirePaidPlan blocks the route unless the workspace has an active paid
// subscription that has not expired.
func RequirePaidPlan(subscriptions SubscriptionGetter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			workspaceID, ok := auth.GetWorkspaceIDFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusBadRequest, "Workspace context required")
			}

			sub, err := subscriptions.GetWorkspaceSubscription(workspaceID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "Failed to check subscription")
			}
			if sub == nil || sub.Status != "active" || sub.PlanExpiresAt.Before(time.Now()) {
				return echo.NewHTTPError(http.StatusPaymentRequired, "An active subscription is required for this feature")
			}

			return next(c)
		}
	}
}
