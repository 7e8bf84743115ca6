package workspaces

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/trafficai/pkg/models"
)

// Member is one user's membership row in a workspace.
type Member struct {
	UserID    int64   `json:"user_id"`
	Email     string  `json:"email"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Role      string  `json:"role"`
}

type WorkspaceService struct {
	db     *sql.DB
	logger *log.Logger
}

func NewWorkspaceService(db *sql.DB, logger *log.Logger) *WorkspaceService {
	return &WorkspaceService{
		db:     db,
		logger: logger,
	}
}

// CreateWorkspace creates a new workspace and makes the creator its admin.
func (s *WorkspaceService) CreateWorkspace(createdByUserID int64, name, description string) (*models.Workspace, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Check if a workspace with this name already exists
	var existingCount int
	checkQuery := `SELECT COUNT(*) FROM workspaces WHERE LOWER(name) = LOWER($1) AND is_active = true`
	err = tx.QueryRow(checkQuery, name).Scan(&existingCount)
	if err != nil {
		s.logger.Printf("Error checking for existing workspace: %v", err)
		return nil, fmt.Errorf("failed to check for existing workspace: %w", err)
	}
	if existingCount > 0 {
		return nil, fmt.Errorf("workspace with name '%s' already exists", name)
	}

	query := `
		INSERT INTO workspaces (name, description, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, name, description, is_active, created_at, updated_at, created_by_user_id
	`

	var ws models.Workspace
	err = tx.QueryRow(query, name, description, createdByUserID).Scan(
		&ws.ID,
		&ws.Name,
		&ws.Description,
		&ws.IsActive,
		&ws.CreatedAt,
		&ws.UpdatedAt,
		&ws.CreatedByUserID,
	)
	if err != nil {
		s.logger.Printf("Error creating workspace: %v", err)
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	memberQuery := `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`
	_, err = tx.Exec(memberQuery, ws.ID, createdByUserID, models.RoleAdmin)
	if err != nil {
		s.logger.Printf("Error assigning creator as admin: %v", err)
		return nil, fmt.Errorf("failed to assign creator as admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &ws, nil
}

// GetWorkspace fetches a workspace by id. Returns (nil, nil) when missing.
func (s *WorkspaceService) GetWorkspace(workspaceID int64) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRow(`
		SELECT id, name, description, is_active, created_at, updated_at,
		       created_by_user_id, subscription_plan, max_users
		FROM workspaces
		WHERE id = $1`,
		workspaceID,
	).Scan(
		&ws.ID, &ws.Name, &ws.Description, &ws.IsActive,
		&ws.CreatedAt, &ws.UpdatedAt, &ws.CreatedByUserID,
		&ws.SubscriptionPlan, &ws.MaxUsers,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// UpdateWorkspace changes a workspace's name and description.
func (s *WorkspaceService) UpdateWorkspace(workspaceID int64, name, description string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.QueryRow(`
		UPDATE workspaces
		SET name = $1,
		    description = $2,
		    updated_at = NOW()
		WHERE id = $3
		RETURNING id, name, description, is_active, created_at, updated_at, created_by_user_id`,
		name, description, workspaceID,
	).Scan(
		&ws.ID, &ws.Name, &ws.Description, &ws.IsActive,
		&ws.CreatedAt, &ws.UpdatedAt, &ws.CreatedByUserID,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace %d not found", workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	return &ws, nil
}

// ListMembers returns every member of a workspace with their role.
func (s *WorkspaceService) ListMembers(workspaceID int64) ([]Member, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.email, u.first_name, u.last_name, wm.role
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = $1
		ORDER BY u.email`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to []
	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Email, &m.FirstName, &m.LastName, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember adds an existing user to the workspace by email.
func (s *WorkspaceService) AddMember(workspaceID int64, email, role string) (*Member, error) {
	if role != models.RoleAdmin && role != models.RoleTeam && role != models.RoleUser {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	var m Member
	err := s.db.QueryRow(`
		SELECT id, email, first_name, last_name
		FROM users
		WHERE LOWER(email) = LOWER($1) AND is_active = true`,
		email,
	).Scan(&m.UserID, &m.Email, &m.FirstName, &m.LastName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active user with email %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (workspace_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, updated_at = NOW()`,
		workspaceID, m.UserID, role,
	)
	if err != nil {
		s.logger.Printf("Error adding member %d to workspace %d: %v", m.UserID, workspaceID, err)
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	m.Role = role
	return &m, nil
}

// UpdateMemberRole changes a member's role, refusing to demote the last
// remaining admin.
func (s *WorkspaceService) UpdateMemberRole(workspaceID, userID int64, role string) error {
	if role != models.RoleAdmin && role != models.RoleTeam && role != models.RoleUser {
		return fmt.Errorf("invalid role: %s", role)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if role != models.RoleAdmin {
		if err := ensureNotLastAdmin(tx, workspaceID, userID); err != nil {
			return err
		}
	}

	result, err := tx.Exec(`
		UPDATE workspace_members
		SET role = $1, updated_at = NOW()
		WHERE workspace_id = $2 AND user_id = $3`,
		role, workspaceID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d is not a member of workspace %d", userID, workspaceID)
	}

	return tx.Commit()
}

// RemoveMember removes a user from the workspace, refusing to remove the
// last remaining admin.
func (s *WorkspaceService) RemoveMember(workspaceID, userID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureNotLastAdmin(tx, workspaceID, userID); err != nil {
		return err
	}

	result, err := tx.Exec(`
		DELETE FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d is not a member of workspace %d", userID, workspaceID)
	}

	return tx.Commit()
}

// ensureNotLastAdmin fails when userID is the only admin of the workspace.
func ensureNotLastAdmin(tx *sql.Tx, workspaceID, userID int64) error {
	var isAdmin bool
	err := tx.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM workspace_members
			WHERE workspace_id = $1 AND user_id = $2 AND role = $3
		)`,
		workspaceID, userID, models.RoleAdmin,
	).Scan(&isAdmin)
	if err != nil {
		return fmt.Errorf("failed to check member role: %w", err)
	}
	if !isAdmin {
		return nil
	}

	var adminCount int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM workspace_members
		WHERE workspace_id = $1 AND role = $2`,
		workspaceID, models.RoleAdmin,
	).Scan(&adminCount)
	if err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	if adminCount <= 1 {
		return fmt.Errorf("workspace must keep at least one admin")
	}
	return nil
}
