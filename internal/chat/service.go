package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficai/internal/realtime"
	"github.com/trafficai/pkg/models"
)

// ErrConversationNotFound is returned when an operation references a
// conversation id that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrConversationClosed is returned when a customer tries to post into a
// conversation an agent has already closed.
var ErrConversationClosed = errors.New("conversation is closed")

// ErrEmailRequired is returned when a conversation is started without a
// customer email.
var ErrEmailRequired = errors.New("customer email is required")

// BotReplyEnqueuer schedules an automated reply to a customer message.
// Failures are logged and swallowed; a missed bot reply never fails the
// customer's send.
type BotReplyEnqueuer interface {
	EnqueueBotReply(ctx context.Context, conversationID, customerMessageID string) error
}

// ContactEnricher schedules a background identity lookup for a customer
// email. Like bot replies, enrichment is best-effort.
type ContactEnricher interface {
	QueueContactEnrichJob(ctx context.Context, workspaceID int64, email string) error
}

// Service coordinates conversation and message operations: persistence,
// realtime fan-out to connected widgets, and bot auto-reply scheduling.
type Service struct {
	conversations *ConversationsRepo
	messages      *MessagesRepo
	reads         *ReadsRepo
	hub           *realtime.Hub
	bot           BotReplyEnqueuer
	enricher      ContactEnricher
	logger        zerolog.Logger
}

// SetContactEnricher wires the background enrichment queue. Optional; new
// conversations simply skip enrichment when unset.
func (s *Service) SetContactEnricher(enricher ContactEnricher) {
	s.enricher = enricher
}

// NewService creates a new chat service. bot may be nil when no auto-reply
// worker is configured.
func NewService(conversations *ConversationsRepo, messages *MessagesRepo, reads *ReadsRepo, hub *realtime.Hub, bot BotReplyEnqueuer, logger zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		reads:         reads,
		hub:           hub,
		bot:           bot,
		logger:        logger.With().Str("component", "chat").Logger(),
	}
}

// StartConversation returns the customer's open conversation, creating one
// only when none exists. The email match is case-insensitive, so a returning
// customer always lands back in their existing thread instead of forking a
// new one.
func (s *Service) StartConversation(ctx context.Context, workspaceID int64, customerName *string, customerEmail string) (*models.Conversation, bool, error) {
	if strings.TrimSpace(customerEmail) == "" {
		return nil, false, ErrEmailRequired
	}

	existing, err := s.conversations.FindOpenByEmail(ctx, workspaceID, customerEmail)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up open conversation: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	conv, err := s.conversations.Create(ctx, workspaceID, customerName, customerEmail)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info().
		Str("conversation_id", conv.ID).
		Int64("workspace_id", workspaceID).
		Msg("Conversation created")

	if s.enricher != nil {
		if err := s.enricher.QueueContactEnrichJob(ctx, workspaceID, conv.CustomerEmail); err != nil {
			s.logger.Warn().
				Err(err).
				Str("conversation_id", conv.ID).
				Msg("Failed to enqueue contact enrichment")
		}
	}

	return conv, false, nil
}

// GetConversation fetches a conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// FindOpenConversation returns the most recent open conversation for an
// email, or ErrConversationNotFound when none exists.
func (s *Service) FindOpenConversation(ctx context.Context, workspaceID int64, email string) (*models.Conversation, error) {
	conv, err := s.conversations.FindOpenByEmail(ctx, workspaceID, email)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// ListConversations returns a workspace's conversations for the dashboard.
func (s *Service) ListConversations(ctx context.Context, workspaceID int64, offset, limit int) ([]*models.Conversation, error) {
	return s.conversations.ListByWorkspace(ctx, workspaceID, offset, limit)
}

// PostMessage persists a message and fans it out to connected widget
// subscribers. Customer messages additionally schedule a bot auto-reply.
func (s *Service) PostMessage(ctx context.Context, conversationID, body string, senderType models.SenderType, senderName *string, isPrivate bool) (*models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message body is required")
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.IsOpen() && senderType == models.SenderCustomer {
		return nil, ErrConversationClosed
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Body:           body,
		SenderType:     senderType,
		SenderName:     senderName,
		IsPrivate:      isPrivate,
	}

	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}

	// Private notes stay on the agent side; everything else reaches
	// connected widgets, which drop customer echoes themselves.
	if !msg.IsPrivate {
		if err := s.hub.BroadcastMessage(*msg); err != nil {
			s.logger.Warn().Err(err).
				Str("conversation_id", conversationID).
				Msg("Failed to broadcast message to some subscribers")
		}
	}

	if senderType == models.SenderCustomer && s.bot != nil {
		if err := s.bot.EnqueueBotReply(ctx, conversationID, msg.ID); err != nil {
			s.logger.Warn().Err(err).
				Str("conversation_id", conversationID).
				Msg("Failed to enqueue bot reply")
		}
	}

	return msg, nil
}

// VisibleMessages returns a conversation's customer-facing history.
func (s *Service) VisibleMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.messages.ListVisible(ctx, conversationID)
}

// AllMessages returns a conversation's full history including private notes.
func (s *Service) AllMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.messages.ListAll(ctx, conversationID)
}

// UnreadCount counts visible non-customer messages after since.
func (s *Service) UnreadCount(ctx context.Context, conversationID string, since time.Time) (int, error) {
	return s.messages.CountUnread(ctx, conversationID, since)
}

// CloseConversation marks a conversation closed. Agent-only.
func (s *Service) CloseConversation(ctx context.Context, id string) error {
	return s.conversations.Close(ctx, id)
}

// MarkRead advances an agent's read marker for a conversation.
func (s *Service) MarkRead(ctx context.Context, userID int64, conversationID string) error {
	return s.reads.MarkRead(ctx, userID, conversationID)
}

// UnreadSummary returns per-conversation unread counts for an agent's
// notification badges.
func (s *Service) UnreadSummary(ctx context.Context, workspaceID, userID int64) ([]ConversationUnread, error) {
	return s.reads.UnreadByUser(ctx, workspaceID, userID)
}
