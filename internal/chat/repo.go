package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trafficai/pkg/models"
)

// ConversationsRepo handles database operations for support conversations
type ConversationsRepo struct {
	db *sql.DB
}

// NewConversationsRepo creates a new conversations repository
func NewConversationsRepo(db *sql.DB) *ConversationsRepo {
	return &ConversationsRepo{db: db}
}

// Create inserts a new open conversation and returns the stored record.
// Emails are stored normalized so later lookups match case-insensitively.
func (r *ConversationsRepo) Create(ctx context.Context, workspaceID int64, customerName *string, customerEmail string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		CustomerName:  customerName,
		CustomerEmail: models.NormalizeEmail(customerEmail),
		Status:        models.ConversationOpen,
	}

	query := `
		INSERT INTO conversations (id, workspace_id, customer_name, customer_email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		conv.ID, conv.WorkspaceID, conv.CustomerName, conv.CustomerEmail, conv.Status,
	).Scan(&conv.CreatedAt, &conv.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	return conv, nil
}

// Get fetches a conversation by id. Returns (nil, nil) when not found.
func (r *ConversationsRepo) Get(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, workspace_id, customer_name, customer_email, status, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.WorkspaceID, &conv.CustomerName, &conv.CustomerEmail,
		&conv.Status, &conv.CreatedAt, &conv.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// FindOpenByEmail returns the most recently created open conversation for a
// customer email, matched case-insensitively. Returns (nil, nil) when none
// exists.
func (r *ConversationsRepo) FindOpenByEmail(ctx context.Context, workspaceID int64, email string) (*models.Conversation, error) {
	query := `
		SELECT id, workspace_id, customer_name, customer_email, status, created_at, updated_at
		FROM conversations
		WHERE workspace_id = $1 AND LOWER(customer_email) = $2 AND status = 'open'
		ORDER BY created_at DESC
		LIMIT 1
	`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, workspaceID, models.NormalizeEmail(email)).Scan(
		&conv.ID, &conv.WorkspaceID, &conv.CustomerName, &conv.CustomerEmail,
		&conv.Status, &conv.CreatedAt, &conv.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open conversation: %w", err)
	}

	return conv, nil
}

// ListByWorkspace returns a workspace's conversations, most recent first.
func (r *ConversationsRepo) ListByWorkspace(ctx context.Context, workspaceID int64, offset, limit int) ([]*models.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, workspace_id, customer_name, customer_email, status, created_at, updated_at
		FROM conversations
		WHERE workspace_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	conversations := make([]*models.Conversation, 0)
	for rows.Next() {
		conv := &models.Conversation{}
		err := rows.Scan(
			&conv.ID, &conv.WorkspaceID, &conv.CustomerName, &conv.CustomerEmail,
			&conv.Status, &conv.CreatedAt, &conv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// Close marks a conversation closed. Only agent-side code calls this; the
// widget never closes a conversation.
func (r *ConversationsRepo) Close(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'closed', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}

	return nil
}

// MessagesRepo handles database operations for conversation messages
type MessagesRepo struct {
	db *sql.DB
}

// NewMessagesRepo creates a new messages repository
func NewMessagesRepo(db *sql.DB) *MessagesRepo {
	return &MessagesRepo{db: db}
}

// Insert persists a message, assigning its server id and timestamp.
func (r *MessagesRepo) Insert(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	query := `
		INSERT INTO messages (id, conversation_id, body, sender_type, sender_name, is_private, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Body, msg.SenderType, msg.SenderName, msg.IsPrivate,
	).Scan(&msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// ListVisible returns a conversation's non-private messages ordered by
// creation time ascending. This is the customer-facing history.
func (r *MessagesRepo) ListVisible(ctx context.Context, conversationID string) ([]models.Message, error) {
	return r.list(ctx, conversationID, false)
}

// ListAll returns every message including private agent notes, for the
// agent-side dashboard.
func (r *MessagesRepo) ListAll(ctx context.Context, conversationID string) ([]models.Message, error) {
	return r.list(ctx, conversationID, true)
}

func (r *MessagesRepo) list(ctx context.Context, conversationID string, includePrivate bool) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, body, sender_type, sender_name, is_private, created_at
		FROM messages
		WHERE conversation_id = $1
	`
	if !includePrivate {
		query += " AND is_private = false"
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Body, &msg.SenderType,
			&msg.SenderName, &msg.IsPrivate, &msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CountUnread counts the visible agent/bot messages created strictly after
// since. It backs the widget's badge when no history is loaded locally.
func (r *MessagesRepo) CountUnread(ctx context.Context, conversationID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND sender_type != 'customer'
		  AND is_private = false
		  AND created_at > $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, conversationID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return count, nil
}

// ReadsRepo tracks per-user read markers for the admin notification badges.
// It uses the same watermark approach as the widget: one last-read timestamp
// per conversation instead of per-message flags.
type ReadsRepo struct {
	db *sql.DB
}

// NewReadsRepo creates a new read-marker repository
func NewReadsRepo(db *sql.DB) *ReadsRepo {
	return &ReadsRepo{db: db}
}

// MarkRead advances a user's read marker for a conversation to now.
func (r *ReadsRepo) MarkRead(ctx context.Context, userID int64, conversationID string) error {
	query := `
		INSERT INTO conversation_reads (user_id, conversation_id, last_read_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, conversation_id)
		DO UPDATE SET last_read_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, userID, conversationID); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}

	return nil
}

// ConversationUnread is one badge entry for the admin notification poll.
type ConversationUnread struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

// UnreadByUser returns unread customer-message counts per open conversation
// in a workspace, measured against the user's read markers.
func (r *ReadsRepo) UnreadByUser(ctx context.Context, workspaceID, userID int64) ([]ConversationUnread, error) {
	query := `
		SELECT c.id, COUNT(m.id)
		FROM conversations c
		JOIN messages m ON m.conversation_id = c.id
		LEFT JOIN conversation_reads cr ON cr.conversation_id = c.id AND cr.user_id = $2
		WHERE c.workspace_id = $1
		  AND c.status = 'open'
		  AND m.sender_type = 'customer'
		  AND m.created_at > COALESCE(cr.last_read_at, 'epoch'::timestamptz)
		GROUP BY c.id
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread counts: %w", err)
	}
	defer rows.Close()

	entries := make([]ConversationUnread, 0)
	for rows.Next() {
		var entry ConversationUnread
		if err := rows.Scan(&entry.ConversationID, &entry.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan unread count: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread counts: %w", err)
	}

	return entries, nil
}
