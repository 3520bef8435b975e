package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// APIKey represents a user API key for programmatic access.
type APIKey struct {
	ID          string
	PrincipalID string
	Name        string
	KeyPrefix   string // first 8 chars for identification
	KeyHash     string // SHA-256 of raw key; raw key is never stored
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// CreateAPIKeyRequest holds parameters for creating a new API key.
type CreateAPIKeyRequest struct {
	PrincipalID string
	Name        string
	ExpiresAt   *time.Time
}

// Validate checks that the request is well-formed.
func (r *CreateAPIKeyRequest) Validate() error {
	if r.PrincipalID == "" {
		return ErrValidation("principal_id is required")
	}
	if r.Name == "" {
		return ErrValidation("api key name is required")
	}
	return nil
}

// HashAPIKey returns the stored form of a raw user API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
