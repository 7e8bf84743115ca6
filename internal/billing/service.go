package billing

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Billing provider plan IDs - these should be set after creating plans with
// the provider.
var (
	MonthlyPlanID = "plan_tai_monthly"
	YearlyPlanID  = "plan_tai_yearly"
)

// Subscription is a workspace's billing subscription as persisted locally.
type Subscription struct {
	ID                     int64      `json:"id" db:"id"`
	WorkspaceID            int64      `json:"workspace_id" db:"workspace_id"`
	OwnerUserID            int64      `json:"owner_user_id" db:"owner_user_id"`
	ProviderSubscriptionID string     `json:"provider_subscription_id" db:"provider_subscription_id"`
	PlanType               string     `json:"plan_type" db:"plan_type"`
	Status                 string     `json:"status" db:"status"`
	CurrentPeriodStart     time.Time  `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time  `json:"current_period_end" db:"current_period_end"`
	PlanExpiresAt          time.Time  `json:"plan_expires_at" db:"plan_expires_at"`
	CheckoutURL            string     `json:"checkout_url,omitempty" db:"-"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty" db:"canceled_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// SubscriptionService handles business logic for subscriptions, wrapping the
// billing provider client.
type SubscriptionService struct {
	db       *sql.DB
	provider ProviderClient
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(db *sql.DB, provider ProviderClient) *SubscriptionService {
	return &SubscriptionService{db: db, provider: provider}
}

// CreateWorkspaceSubscription creates a new subscription via the billing
// provider and persists it to the DB. The returned subscription carries the
// provider's hosted checkout URL; the subscription stays in "created" status
// until the provider confirms activation over the webhook.
func (s *SubscriptionService) CreateWorkspaceSubscription(workspaceID, ownerUserID int64, planType string) (*Subscription, error) {
	// Validate plan type
	if planType != "monthly" && planType != "yearly" {
		return nil, fmt.Errorf("invalid plan type: %s (must be monthly or yearly)", planType)
	}

	var planID string
	if planType == "monthly" {
		planID = MonthlyPlanID
	} else {
		planID = YearlyPlanID
	}
	if planID == "" {
		return nil, fmt.Errorf("billing plan ID not configured for %s", planType)
	}

	notes := map[string]string{
		"workspace_id":  fmt.Sprintf("%d", workspaceID),
		"owner_user_id": fmt.Sprintf("%d", ownerUserID),
		"plan_type":     planType,
	}

	sub, err := s.provider.CreateSubscription(planID, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider subscription: %w", err)
	}

	// For brand-new subscriptions the provider returns 0 for the current
	// period; use creation time as start and derive the end from the plan.
	var currentPeriodStart, currentPeriodEnd time.Time
	if sub.CurrentStart > 0 {
		currentPeriodStart = time.Unix(sub.CurrentStart, 0)
	} else {
		currentPeriodStart = time.Now()
	}
	if sub.CurrentEnd > 0 {
		currentPeriodEnd = time.Unix(sub.CurrentEnd, 0)
	} else if planType == "monthly" {
		currentPeriodEnd = currentPeriodStart.AddDate(0, 1, 0)
	} else {
		currentPeriodEnd = currentPeriodStart.AddDate(1, 0, 0)
	}
	planExpiresAt := currentPeriodEnd

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var out Subscription
	err = tx.QueryRow(`
		INSERT INTO subscriptions (
			workspace_id, owner_user_id, provider_subscription_id,
			plan_type, status, current_period_start, current_period_end,
			plan_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		workspaceID, ownerUserID, sub.ID,
		planType, sub.Status, currentPeriodStart, currentPeriodEnd,
		planExpiresAt,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	if err := logBillingEvent(tx, workspaceID, ownerUserID, "subscription_created",
		fmt.Sprintf("Created %s subscription", planType),
		map[string]interface{}{
			"subscription_id": sub.ID,
			"plan_id":         planID,
			"status":          sub.Status,
		},
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	out.WorkspaceID = workspaceID
	out.OwnerUserID = ownerUserID
	out.ProviderSubscriptionID = sub.ID
	out.PlanType = planType
	out.Status = sub.Status
	out.CurrentPeriodStart = currentPeriodStart
	out.CurrentPeriodEnd = currentPeriodEnd
	out.PlanExpiresAt = planExpiresAt
	out.CheckoutURL = sub.ShortURL
	return &out, nil
}

// GetWorkspaceSubscription returns the most recent subscription for a
// workspace, or nil if the workspace never subscribed.
func (s *SubscriptionService) GetWorkspaceSubscription(workspaceID int64) (*Subscription, error) {
	var sub Subscription
	err := s.db.QueryRow(`
		SELECT id, workspace_id, owner_user_id, provider_subscription_id,
		       plan_type, status, current_period_start, current_period_end,
		       plan_expires_at, canceled_at, created_at, updated_at
		FROM subscriptions
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		workspaceID,
	).Scan(
		&sub.ID, &sub.WorkspaceID, &sub.OwnerUserID, &sub.ProviderSubscriptionID,
		&sub.PlanType, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.PlanExpiresAt, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// CancelWorkspaceSubscription cancels the workspace's subscription with the
// provider. With atPeriodEnd the plan stays usable until the paid period runs
// out; immediate cancellation downgrades the workspace right away.
func (s *SubscriptionService) CancelWorkspaceSubscription(workspaceID, userID int64, atPeriodEnd bool) (*Subscription, error) {
	current, err := s.GetWorkspaceSubscription(workspaceID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("workspace %d has no subscription", workspaceID)
	}

	sub, err := s.provider.CancelSubscription(current.ProviderSubscriptionID, atPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel provider subscription: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE subscriptions
		SET status = $1,
		    canceled_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2`,
		sub.Status, current.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	if !atPeriodEnd {
		_, err = tx.Exec(`
			UPDATE workspaces
			SET subscription_plan = 'free',
			    updated_at = NOW()
			WHERE id = $1`,
			workspaceID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to downgrade workspace: %w", err)
		}
	}

	if err := logBillingEvent(tx, workspaceID, userID, "subscription_canceled",
		fmt.Sprintf("Canceled subscription (at_period_end=%t)", atPeriodEnd),
		map[string]interface{}{
			"subscription_id": current.ProviderSubscriptionID,
			"status":          sub.Status,
		},
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	current.Status = sub.Status
	return current, nil
}

// logBillingEvent appends an audit row to billing_log inside the caller's
// transaction.
func logBillingEvent(tx *sql.Tx, workspaceID, userID int64, eventType, description string, metadata map[string]interface{}) error {
	metadataJSON, _ := json.Marshal(metadata)
	_, err := tx.Exec(`
		INSERT INTO billing_log (
			workspace_id, user_id, event_type, description, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, NOW())`,
		workspaceID, userID, eventType, description, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to log billing event: %w", err)
	}
	return nil
}
