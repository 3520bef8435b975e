package domain

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewAPIKey generates a random 40-character token used as a query-scoped API key.
func NewAPIKey() string {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	key := base64.RawURLEncoding.EncodeToString(buf)
	return strings.NewReplacer("-", "a", "_", "b").Replace(key)
}
