package security

import (
	"querydesk/internal/domain"
)

// RequireAdmin returns AccessDeniedError unless caps belong to an admin
// principal. Query API keys are never admins.
func RequireAdmin(caps *Capabilities) error {
	if caps == nil {
		return domain.ErrAccessDenied("authentication required")
	}
	if !caps.IsAdmin() {
		return domain.ErrAccessDenied("admin privileges required")
	}
	return nil
}
