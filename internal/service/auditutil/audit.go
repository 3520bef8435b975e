// Package auditutil records access decisions to the audit log. Recording is
// best effort: a failed insert never fails the audited operation.
package auditutil

import (
	"context"

	"querydesk/internal/domain"
)

// Audit statuses.
const (
	StatusAllowed = "ALLOWED"
	StatusDenied  = "DENIED"
	StatusError   = "ERROR"
)

// Option sets an optional field of an audit entry.
type Option func(*domain.AuditEntry)

// WithDataSource records the data source an action targeted.
func WithDataSource(id string) Option {
	return func(e *domain.AuditEntry) { e.DataSourceID = nonEmpty(id) }
}

// WithQuery records the saved query an action targeted.
func WithQuery(id string) Option {
	return func(e *domain.AuditEntry) { e.QueryID = nonEmpty(id) }
}

// WithQueryHash records the fingerprint an action targeted.
func WithQueryHash(hash string) Option {
	return func(e *domain.AuditEntry) { e.QueryHash = nonEmpty(hash) }
}

// WithDetail attaches a free-form detail, usually an error message.
func WithDetail(detail string) Option {
	return func(e *domain.AuditEntry) { e.Detail = nonEmpty(detail) }
}

func LogAllowed(ctx context.Context, audit domain.AuditRepository, principal, action string, opts ...Option) {
	logDecision(ctx, audit, principal, action, StatusAllowed, opts)
}

func LogDenied(ctx context.Context, audit domain.AuditRepository, principal, action string, opts ...Option) {
	logDecision(ctx, audit, principal, action, StatusDenied, opts)
}

func LogError(ctx context.Context, audit domain.AuditRepository, principal, action string, opts ...Option) {
	logDecision(ctx, audit, principal, action, StatusError, opts)
}

func logDecision(ctx context.Context, audit domain.AuditRepository, principal, action, status string, opts []Option) {
	if audit == nil {
		return
	}
	e := &domain.AuditEntry{
		PrincipalName: principal,
		Action:        action,
		Status:        status,
	}
	for _, opt := range opts {
		opt(e)
	}
	_ = audit.Insert(ctx, e)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
