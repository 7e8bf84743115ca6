package models

import (
	"strings"
	"time"
)

// Multi-tenancy models

// Workspace represents a workspace (top-level tenant)
type Workspace struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      *string   `json:"description" db:"description"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
	CreatedByUserID  *int64    `json:"created_by_user_id,omitempty" db:"created_by_user_id"`
	SubscriptionPlan *string   `json:"subscription_plan,omitempty" db:"subscription_plan"`
	MaxUsers         *int      `json:"max_users,omitempty" db:"max_users"`
}

// User represents a dashboard user who can belong to multiple workspaces
type User struct {
	ID           int64      `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never expose password hash in JSON
	FirstName    *string    `json:"first_name,omitempty" db:"first_name"`
	LastName     *string    `json:"last_name,omitempty" db:"last_name"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// UserWithRole extends User with role information for a specific workspace
type UserWithRole struct {
	User
	Role        string `json:"role"`
	WorkspaceID int64  `json:"workspace_id"`
}

// Dashboard role constants
const (
	RoleAdmin = "admin"
	RoleTeam  = "team"
	RoleUser  = "user"
)

// Support chat models

// ConversationStatus is the lifecycle state of a support thread.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation identifies one customer support thread. At most one open
// conversation is treated as current per customer email; lookups that find
// several return the most recently created.
type Conversation struct {
	ID            string             `json:"id" db:"id"`
	WorkspaceID   int64              `json:"workspace_id" db:"workspace_id"`
	CustomerName  *string            `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail string             `json:"customer_email" db:"customer_email"`
	Status        ConversationStatus `json:"status" db:"status"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the conversation can still receive customer messages.
func (c *Conversation) IsOpen() bool {
	return c.Status == ConversationOpen
}

// SenderType identifies which party authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderBot      SenderType = "bot"
)

// Message is one line of conversation content. Private messages are internal
// agent notes and are never delivered to the customer-facing party.
type Message struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Body           string     `json:"body" db:"body"`
	SenderType     SenderType `json:"sender_type" db:"sender_type"`
	SenderName     *string    `json:"sender_name,omitempty" db:"sender_name"`
	IsPrivate      bool       `json:"is_private" db:"is_private"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// NormalizeEmail lowercases and trims an email for case-insensitive matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Pixel represents an installable visitor-tracking pixel.
type Pixel struct {
	ID          int64     `json:"id" db:"id"`
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	Name        string    `json:"name" db:"name"`
	Domain      string    `json:"domain" db:"domain"`
	PixelKey    string    `json:"pixel_key" db:"pixel_key"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Contact is an enriched visitor identity resolved through the upstream
// marketing-data API.
type Contact struct {
	ID          int64      `json:"id" db:"id"`
	WorkspaceID int64      `json:"workspace_id" db:"workspace_id"`
	Email       string     `json:"email" db:"email"`
	FullName    *string    `json:"full_name,omitempty" db:"full_name"`
	Company     *string    `json:"company,omitempty" db:"company"`
	Title       *string    `json:"title,omitempty" db:"title"`
	EnrichedAt  *time.Time `json:"enriched_at,omitempty" db:"enriched_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
