package pixels

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/trafficai/pkg/models"
)

// Repo handles database operations for tracking pixels
type Repo struct {
	db *sql.DB
}

// NewRepo creates a new pixels repository
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// generatePixelKey creates the opaque key embedded in the install snippet.
func generatePixelKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "px_" + hex.EncodeToString(bytes), nil
}

// Create inserts a new pixel with a server-generated key.
func (r *Repo) Create(ctx context.Context, workspaceID int64, name, domain string) (*models.Pixel, error) {
	key, err := generatePixelKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pixel key: %w", err)
	}

	pixel := &models.Pixel{
		WorkspaceID: workspaceID,
		Name:        name,
		Domain:      domain,
		PixelKey:    key,
		IsActive:    true,
	}

	query := `
		INSERT INTO pixels (workspace_id, name, domain, pixel_key, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query, workspaceID, name, domain, key).Scan(&pixel.ID, &pixel.CreatedAt, &pixel.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pixel: %w", err)
	}

	return pixel, nil
}

// Get fetches a pixel by id within a workspace. Returns (nil, nil) when not
// found.
func (r *Repo) Get(ctx context.Context, workspaceID, id int64) (*models.Pixel, error) {
	query := `
		SELECT id, workspace_id, name, domain, pixel_key, is_active, created_at, updated_at
		FROM pixels
		WHERE id = $1 AND workspace_id = $2
	`

	pixel := &models.Pixel{}
	err := r.db.QueryRowContext(ctx, query, id, workspaceID).Scan(
		&pixel.ID, &pixel.WorkspaceID, &pixel.Name, &pixel.Domain,
		&pixel.PixelKey, &pixel.IsActive, &pixel.CreatedAt, &pixel.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pixel: %w", err)
	}

	return pixel, nil
}

// List returns a workspace's pixels, newest first.
func (r *Repo) List(ctx context.Context, workspaceID int64) ([]*models.Pixel, error) {
	query := `
		SELECT id, workspace_id, name, domain, pixel_key, is_active, created_at, updated_at
		FROM pixels
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pixels: %w", err)
	}
	defer rows.Close()

	pixels := make([]*models.Pixel, 0)
	for rows.Next() {
		pixel := &models.Pixel{}
		err := rows.Scan(
			&pixel.ID, &pixel.WorkspaceID, &pixel.Name, &pixel.Domain,
			&pixel.PixelKey, &pixel.IsActive, &pixel.CreatedAt, &pixel.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pixel: %w", err)
		}
		pixels = append(pixels, pixel)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pixels: %w", err)
	}

	return pixels, nil
}

// Update changes a pixel's name, domain, or active flag.
func (r *Repo) Update(ctx context.Context, workspaceID, id int64, name, domain string, isActive bool) (*models.Pixel, error) {
	query := `
		UPDATE pixels
		SET name = $1, domain = $2, is_active = $3, updated_at = NOW()
		WHERE id = $4 AND workspace_id = $5
		RETURNING id, workspace_id, name, domain, pixel_key, is_active, created_at, updated_at
	`

	pixel := &models.Pixel{}
	err := r.db.QueryRowContext(ctx, query, name, domain, isActive, id, workspaceID).Scan(
		&pixel.ID, &pixel.WorkspaceID, &pixel.Name, &pixel.Domain,
		&pixel.PixelKey, &pixel.IsActive, &pixel.CreatedAt, &pixel.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update pixel: %w", err)
	}

	return pixel, nil
}

// Delete removes a pixel. Widget requests carrying its key stop resolving.
func (r *Repo) Delete(ctx context.Context, workspaceID, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pixels WHERE id = $1 AND workspace_id = $2
	`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to delete pixel: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pixel %d not found", id)
	}

	return nil
}
