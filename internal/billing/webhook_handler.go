package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// WebhookHandler handles billing provider webhook events
type WebhookHandler struct {
	db            *sql.DB
	webhookSecret string
}

// NewWebhookHandler creates a new billing webhook handler
func NewWebhookHandler(db *sql.DB, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		db:            db,
		webhookSecret: webhookSecret,
	}
}

// WebhookEvent represents a webhook event from the billing provider
type WebhookEvent struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

type webhookPayload struct {
	Subscription ProviderSubscription `json:"subscription"`
}

// HandleWebhook processes incoming billing provider webhook events
func (h *WebhookHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	signature := c.Request().Header.Get("X-Billing-Signature")
	if !h.verifySignature(body, signature) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid webhook signature",
		})
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid JSON payload",
		})
	}

	if err := h.processEvent(&event); err != nil {
		// Log the error but return 200 to prevent the provider from
		// retrying; failed events land in billing_log for manual review.
		_ = h.logFailedEvent(&event, err)
		return c.JSON(http.StatusOK, map[string]string{
			"status": "error logged",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "processed",
	})
}

// verifySignature verifies the webhook HMAC signature
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" {
		// In test mode, skip signature verification if no secret configured
		return true
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expectedSignature)) == 1
}

// processEvent routes events to appropriate handlers
func (h *WebhookHandler) processEvent(event *WebhookEvent) error {
	switch event.Event {
	case "subscription.activated":
		return h.handleSubscriptionActivated(event)
	case "subscription.charged":
		return h.handleSubscriptionCharged(event)
	case "subscription.cancelled":
		return h.handleSubscriptionCancelled(event)
	default:
		// Unknown event type - log but don't fail
		return h.logUnknownEvent(event)
	}
}

func (h *WebhookHandler) extractSubscription(event *WebhookEvent) (*ProviderSubscription, error) {
	var payload webhookPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse event payload: %w", err)
	}
	if payload.Subscription.ID == "" {
		return nil, fmt.Errorf("event payload has no subscription")
	}
	return &payload.Subscription, nil
}

// handleSubscriptionActivated marks the subscription active and upgrades the
// workspace to its paid plan.
func (h *WebhookHandler) handleSubscriptionActivated(event *WebhookEvent) error {
	sub, err := h.extractSubscription(event)
	if err != nil {
		return err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var workspaceID, ownerUserID int64
	var planType string
	err = tx.QueryRow(`
		SELECT workspace_id, owner_user_id, plan_type
		FROM subscriptions
		WHERE provider_subscription_id = $1`,
		sub.ID,
	).Scan(&workspaceID, &ownerUserID, &planType)
	if err != nil {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}

	_, err = tx.Exec(`
		UPDATE subscriptions
		SET status = $1,
		    current_period_start = $2,
		    current_period_end = $3,
		    plan_expires_at = $3,
		    updated_at = NOW()
		WHERE provider_subscription_id = $4`,
		sub.Status,
		time.Unix(sub.CurrentStart, 0),
		time.Unix(sub.CurrentEnd, 0),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE workspaces
		SET subscription_plan = $1,
		    updated_at = NOW()
		WHERE id = $2`,
		planType, workspaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to upgrade workspace: %w", err)
	}

	if err := logBillingEvent(tx, workspaceID, ownerUserID, "subscription_activated",
		"Subscription activated by billing provider",
		map[string]interface{}{
			"subscription_id": sub.ID,
			"status":          sub.Status,
			"event":           event.Event,
		},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// handleSubscriptionCharged extends the workspace's plan expiry after a
// successful renewal charge.
func (h *WebhookHandler) handleSubscriptionCharged(event *WebhookEvent) error {
	sub, err := h.extractSubscription(event)
	if err != nil {
		return err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var workspaceID, ownerUserID int64
	var planType string
	var currentExpiry time.Time
	err = tx.QueryRow(`
		SELECT workspace_id, owner_user_id, plan_type, plan_expires_at
		FROM subscriptions
		WHERE provider_subscription_id = $1`,
		sub.ID,
	).Scan(&workspaceID, &ownerUserID, &planType, &currentExpiry)
	if err != nil {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}

	var newExpiry time.Time
	if planType == "monthly" {
		newExpiry = currentExpiry.AddDate(0, 1, 0)
	} else {
		newExpiry = currentExpiry.AddDate(1, 0, 0)
	}

	_, err = tx.Exec(`
		UPDATE subscriptions
		SET plan_expires_at = $1,
		    current_period_start = $2,
		    current_period_end = $3,
		    updated_at = NOW()
		WHERE provider_subscription_id = $4`,
		newExpiry,
		time.Unix(sub.CurrentStart, 0),
		time.Unix(sub.CurrentEnd, 0),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if err := logBillingEvent(tx, workspaceID, ownerUserID, "subscription_charged",
		"Subscription renewal charge processed",
		map[string]interface{}{
			"subscription_id": sub.ID,
			"new_expiry":      newExpiry,
			"event":           event.Event,
		},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// handleSubscriptionCancelled downgrades the workspace once the provider
// confirms the cancellation.
func (h *WebhookHandler) handleSubscriptionCancelled(event *WebhookEvent) error {
	sub, err := h.extractSubscription(event)
	if err != nil {
		return err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var workspaceID, ownerUserID int64
	err = tx.QueryRow(`
		SELECT workspace_id, owner_user_id
		FROM subscriptions
		WHERE provider_subscription_id = $1`,
		sub.ID,
	).Scan(&workspaceID, &ownerUserID)
	if err != nil {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}

	_, err = tx.Exec(`
		UPDATE subscriptions
		SET status = $1,
		    canceled_at = NOW(),
		    updated_at = NOW()
		WHERE provider_subscription_id = $2`,
		sub.Status, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE workspaces
		SET subscription_plan = 'free',
		    updated_at = NOW()
		WHERE id = $1`,
		workspaceID,
	)
	if err != nil {
		return fmt.Errorf("failed to downgrade workspace: %w", err)
	}

	if err := logBillingEvent(tx, workspaceID, ownerUserID, "subscription_cancelled",
		"Subscription cancelled by billing provider",
		map[string]interface{}{
			"subscription_id": sub.ID,
			"status":          sub.Status,
			"event":           event.Event,
		},
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (h *WebhookHandler) logFailedEvent(event *WebhookEvent, processErr error) error {
	metadata, _ := json.Marshal(map[string]interface{}{
		"event": event.Event,
		"error": processErr.Error(),
	})
	_, err := h.db.Exec(`
		INSERT INTO billing_log (
			workspace_id, user_id, event_type, description, metadata, created_at
		) VALUES (0, 0, 'webhook_failed', $1, $2, NOW())`,
		fmt.Sprintf("Failed to process %s event", event.Event),
		metadata,
	)
	return err
}

func (h *WebhookHandler) logUnknownEvent(event *WebhookEvent) error {
	metadata, _ := json.Marshal(map[string]interface{}{"event": event.Event})
	_, err := h.db.Exec(`
		INSERT INTO billing_log (
			workspace_id, user_id, event_type, description, metadata, created_at
		) VALUES (0, 0, 'webhook_unknown_event', $1, $2, NOW())`,
		fmt.Sprintf("Received unknown event %s", event.Event),
		metadata,
	)
	return err
}
