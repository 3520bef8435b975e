package repository

import (
	"context"
	"database/sql"

	"querydesk/internal/domain"
)

var _ domain.PrincipalRepository = (*PrincipalRepo)(nil)

// PrincipalRepo stores principals in SQLite.
type PrincipalRepo struct {
	db *sql.DB
}

// NewPrincipalRepo creates a new PrincipalRepo.
func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{db: db}
}

// Create inserts a new principal.
func (r *PrincipalRepo) Create(ctx context.Context, p *domain.Principal) (*domain.Principal, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.Type == "" {
		p.Type = domain.PrincipalTypeUser
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO principals (id, name, type, is_admin) VALUES (?, ?, ?, ?)
	`, p.ID, p.Name, p.Type, boolToInt(p.IsAdmin))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, p.ID)
}

// GetByID returns a principal by ID.
func (r *PrincipalRepo) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	return r.getOne(ctx, `SELECT id, name, type, is_admin, created_at FROM principals WHERE id = ?`, id)
}

// GetByName returns a principal by name.
func (r *PrincipalRepo) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	return r.getOne(ctx, `SELECT id, name, type, is_admin, created_at FROM principals WHERE name = ?`, name)
}

func (r *PrincipalRepo) getOne(ctx context.Context, stmt string, args ...interface{}) (*domain.Principal, error) {
	var (
		p       domain.Principal
		isAdmin int64
	)
	err := r.db.QueryRowContext(ctx, stmt, args...).Scan(&p.ID, &p.Name, &p.Type, &isAdmin, &p.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	p.IsAdmin = isAdmin != 0
	return &p, nil
}
