package domain

import "time"

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID            string
	PrincipalName string
	Action        string
	DataSourceID  *string
	QueryID       *string
	QueryHash     *string
	Status        string // "ALLOWED", "DENIED", "ERROR"
	Detail        *string
	CreatedAt     time.Time
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	PrincipalName *string
	Action        *string
	Status        *string
	Limit         int
}
