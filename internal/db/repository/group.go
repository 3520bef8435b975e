package repository

import (
	"context"
	"database/sql"
	"fmt"

	"querydesk/internal/domain"
)

var _ domain.GroupRepository = (*GroupRepo)(nil)

// GroupRepo stores groups and their memberships in SQLite.
type GroupRepo struct {
	db *sql.DB
}

// NewGroupRepo creates a new GroupRepo.
func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// Create inserts a new group.
func (r *GroupRepo) Create(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	if g.ID == "" {
		g.ID = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description) VALUES (?, ?, ?)
	`, g.ID, g.Name, g.Description)
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.getOne(ctx, `SELECT id, name, description, created_at FROM groups WHERE id = ?`, g.ID)
}

// GetByName returns a group by name.
func (r *GroupRepo) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	return r.getOne(ctx, `SELECT id, name, description, created_at FROM groups WHERE name = ?`, name)
}

// AddMember adds a principal to a group. Adding an existing member is a no-op.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, principalID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, principal_id) VALUES (?, ?)
		ON CONFLICT (group_id, principal_id) DO NOTHING
	`, groupID, principalID)
	return mapDBError(err)
}

// GroupIDsForPrincipal lists the ids of all groups the principal belongs to.
func (r *GroupRepo) GroupIDsForPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id FROM group_members WHERE principal_id = ? ORDER BY group_id
	`, principalID)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *GroupRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Group, error) {
	var g domain.Group
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &g, nil
}
