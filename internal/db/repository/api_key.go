package repository

import (
	"context"
	"database/sql"
	"time"

	"querydesk/internal/domain"
)

var _ domain.APIKeyRepository = (*APIKeyRepo)(nil)

// APIKeyRepo implements middleware.APIKeyLookup over the api_keys table.
type APIKeyRepo struct {
	db *sql.DB
}

// NewAPIKeyRepo creates a new APIKeyRepo.
func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

// Create stores a hashed API key.
func (r *APIKeyRepo) Create(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error) {
	if key.ID == "" {
		key.ID = domain.NewID()
	}
	var expires sql.NullTime
	if key.ExpiresAt != nil {
		expires = sql.NullTime{Time: key.ExpiresAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, principal_id, name, key_prefix, key_hash, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.ID, key.PrincipalID, key.Name, key.KeyPrefix, key.KeyHash, expires)
	if err != nil {
		return nil, mapDBError(err)
	}
	key.CreatedAt = time.Now().UTC()
	return key, nil
}

// LookupPrincipalByAPIKeyHash returns the principal name associated with the given API key hash.
// Expired keys are treated as unknown.
func (r *APIKeyRepo) LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, `
		SELECT p.name
		FROM api_keys k
		JOIN principals p ON p.id = k.principal_id
		WHERE k.key_hash = ? AND (k.expires_at IS NULL OR k.expires_at > ?)
	`, keyHash, time.Now().UTC()).Scan(&name)
	if err != nil {
		return "", mapDBError(err)
	}
	return name, nil
}
