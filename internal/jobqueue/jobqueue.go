/*
Package jobqueue provides a River-based job queue for background work:
contact enrichment through the upstream marketing-data API and bot
auto-replies to customer support messages.

For configuration options and tuning parameters, see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/trafficai/internal/audiences"
	"github.com/trafficai/internal/realtime"
	"github.com/trafficai/pkg/models"
)

// ContactEnrichJobArgs represents the arguments for a contact enrichment job
type ContactEnrichJobArgs struct {
	WorkspaceID int64  `json:"workspace_id"`
	Email       string `json:"email"`
}

// Kind returns the job kind for River
func (ContactEnrichJobArgs) Kind() string {
	return "contact_enrich"
}

// ContactEnrichWorker resolves a visitor email through the upstream
// marketing-data API and stores the result as a contact.
type ContactEnrichWorker struct {
	river.WorkerDefaults[ContactEnrichJobArgs]
	contacts *audiences.ContactsRepo
	client   *audiences.Client
}

// Work performs the enrichment lookup
func (w *ContactEnrichWorker) Work(ctx context.Context, job *river.Job[ContactEnrichJobArgs]) error {
	args := job.Args
	email := models.NormalizeEmail(args.Email)

	// Every stored contact carries an enrichment timestamp, so an existing
	// row means the email was already looked up; don't spend credits again.
	existing, err := w.contacts.GetByEmail(ctx, args.WorkspaceID, email)
	if err != nil {
		return fmt.Errorf("failed to check existing contact: %w", err)
	}
	if existing != nil {
		log.Debug().Str("email", email).Msg("Contact already enriched, skipping lookup")
		return nil
	}

	person, err := w.client.Enrich(ctx, email)
	if err != nil {
		if err == audiences.ErrInsufficientCredits {
			// Retrying will not help until the account is topped up
			log.Warn().Str("email", email).Msg("Skipping enrichment, no credits remaining")
			return nil
		}
		return fmt.Errorf("failed to enrich contact: %w", err)
	}

	if person == nil {
		// Upstream has no record; store the bare email so we don't look it
		// up again on every conversation.
		log.Debug().Str("email", email).Msg("No enrichment data for contact")
	}

	contact := &models.Contact{
		WorkspaceID: args.WorkspaceID,
		Email:       email,
	}
	if person != nil {
		contact.FullName = person.FullName
		contact.Company = person.Company
		contact.Title = person.Title
	}

	if err := w.contacts.Upsert(ctx, contact); err != nil {
		return fmt.Errorf("failed to store enriched contact: %w", err)
	}

	log.Info().
		Str("email", email).
		Int64("workspace_id", args.WorkspaceID).
		Bool("resolved", person != nil).
		Msg("Contact enrichment completed")

	return nil
}

// BotReplyJobArgs represents the arguments for a bot auto-reply job
type BotReplyJobArgs struct {
	ConversationID    string `json:"conversation_id"`
	CustomerMessageID string `json:"customer_message_id"`
}

// Kind returns the job kind for River
func (BotReplyJobArgs) Kind() string {
	return "bot_reply"
}

const botAcknowledgment = "Thanks for reaching out! A member of our team will reply shortly."

// BotReplyWorker posts an automated acknowledgment after a customer's first
// message in a conversation. Later customer messages do not re-trigger it.
type BotReplyWorker struct {
	river.WorkerDefaults[BotReplyJobArgs]
	pool  *pgxpool.Pool
	hub   *realtime.Hub
	delay time.Duration
}

// Work posts the auto-reply if the conversation still qualifies
func (w *BotReplyWorker) Work(ctx context.Context, job *river.Job[BotReplyJobArgs]) error {
	args := job.Args

	// Only acknowledge the conversation's first customer message, and only
	// while the thread is still open and unanswered.
	var status string
	var customerCount, nonCustomerCount int
	err := w.pool.QueryRow(ctx, `
		SELECT c.status,
		       COUNT(m.id) FILTER (WHERE m.sender_type = 'customer'),
		       COUNT(m.id) FILTER (WHERE m.sender_type != 'customer')
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		WHERE c.id = $1
		GROUP BY c.status
	`, args.ConversationID).Scan(&status, &customerCount, &nonCustomerCount)

	if err != nil {
		if err == pgx.ErrNoRows {
			// Conversation vanished; nothing to do
			return nil
		}
		return fmt.Errorf("failed to inspect conversation: %w", err)
	}

	if status != string(models.ConversationOpen) || customerCount != 1 || nonCustomerCount > 0 {
		return nil
	}

	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.delay):
		}
	}

	msg := models.Message{
		ConversationID: args.ConversationID,
		Body:           botAcknowledgment,
		SenderType:     models.SenderBot,
		IsPrivate:      false,
	}

	err = w.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, body, sender_type, is_private, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, false, NOW())
		RETURNING id, created_at
	`, msg.ConversationID, msg.Body, msg.SenderType).Scan(&msg.ID, &msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert bot reply: %w", err)
	}

	if err := w.hub.BroadcastMessage(msg); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", args.ConversationID).
			Msg("Failed to broadcast bot reply to some subscribers")
	}

	log.Info().
		Str("conversation_id", args.ConversationID).
		Str("message_id", msg.ID).
		Msg("Bot auto-reply posted")

	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance. audiencesClient may be nil
// when no upstream marketing-data API is configured; enrichment jobs then
// fail and retry until one is.
func NewJobQueue(databaseURL string, audiencesClient *audiences.Client, contacts *audiences.ContactsRepo, hub *realtime.Hub) (*JobQueue, error) {
	config := GetQueueConfig()

	// Create a pgx connection pool
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Create River client
	workers := river.NewWorkers()
	river.AddWorker(workers, &ContactEnrichWorker{contacts: contacts, client: audiencesClient})
	river.AddWorker(workers, &BotReplyWorker{pool: pool, hub: hub, delay: config.BotReplyDelay})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the connection pool
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// QueueContactEnrichJob queues a contact enrichment job
func (jq *JobQueue) QueueContactEnrichJob(ctx context.Context, workspaceID int64, email string) error {
	args := ContactEnrichJobArgs{
		WorkspaceID: workspaceID,
		Email:       email,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue contact enrich job: %w", err)
	}

	return nil
}

// EnqueueBotReply queues a bot auto-reply job. Satisfies the chat service's
// enqueuer interface.
func (jq *JobQueue) EnqueueBotReply(ctx context.Context, conversationID, customerMessageID string) error {
	args := BotReplyJobArgs{
		ConversationID:    conversationID,
		CustomerMessageID: customerMessageID,
	}

	_, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return fmt.Errorf("failed to queue bot reply job: %w", err)
	}

	return nil
}
