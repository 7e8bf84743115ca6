package audiences

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trafficai/pkg/models"
)

// ContactsRepo handles database operations for enriched contacts
type ContactsRepo struct {
	db *sql.DB
}

// NewContactsRepo creates a new contacts repository
func NewContactsRepo(db *sql.DB) *ContactsRepo {
	return &ContactsRepo{db: db}
}

// Upsert stores an enriched contact, replacing any earlier enrichment for the
// same email in the workspace.
func (r *ContactsRepo) Upsert(ctx context.Context, contact *models.Contact) error {
	query := `
		INSERT INTO contacts (workspace_id, email, full_name, company, title, enriched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (workspace_id, email)
		DO UPDATE SET full_name = $3, company = $4, title = $5, enriched_at = NOW()
		RETURNING id, created_at
	`

	email := models.NormalizeEmail(contact.Email)
	err := r.db.QueryRowContext(ctx, query,
		contact.WorkspaceID, email, contact.FullName, contact.Company, contact.Title,
	).Scan(&contact.ID, &contact.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	contact.Email = email

	return nil
}

// GetByEmail fetches a contact by email within a workspace. Returns
// (nil, nil) when not found.
func (r *ContactsRepo) GetByEmail(ctx context.Context, workspaceID int64, email string) (*models.Contact, error) {
	query := `
		SELECT id, workspace_id, email, full_name, company, title, enriched_at, created_at
		FROM contacts
		WHERE workspace_id = $1 AND email = $2
	`

	contact := &models.Contact{}
	err := r.db.QueryRowContext(ctx, query, workspaceID, models.NormalizeEmail(email)).Scan(
		&contact.ID, &contact.WorkspaceID, &contact.Email, &contact.FullName,
		&contact.Company, &contact.Title, &contact.EnrichedAt, &contact.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}

	return contact, nil
}

// List returns a workspace's contacts, most recently enriched first.
func (r *ContactsRepo) List(ctx context.Context, workspaceID int64, offset, limit int) ([]*models.Contact, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, workspace_id, email, full_name, company, title, enriched_at, created_at
		FROM contacts
		WHERE workspace_id = $1
		ORDER BY enriched_at DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]*models.Contact, 0)
	for rows.Next() {
		contact := &models.Contact{}
		err := rows.Scan(
			&contact.ID, &contact.WorkspaceID, &contact.Email, &contact.FullName,
			&contact.Company, &contact.Title, &contact.EnrichedAt, &contact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}
