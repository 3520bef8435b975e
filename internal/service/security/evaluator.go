// Package security holds the access-control decisions that gate execution
// and result reads.
package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"querydesk/internal/domain"
)

// Evaluator decides execute and view access, and resolves the caller's
// capabilities from request context.
type Evaluator struct {
	principals domain.PrincipalRepository
	groups     domain.GroupRepository
	queries    domain.QueryRepository
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(principals domain.PrincipalRepository, groups domain.GroupRepository, queries domain.QueryRepository) *Evaluator {
	return &Evaluator{principals: principals, groups: groups, queries: queries}
}

// ForContext resolves capabilities for the authenticated principal in ctx.
func (e *Evaluator) ForContext(ctx context.Context) (*Capabilities, error) {
	p, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return nil, domain.ErrAccessDenied("authentication required")
	}
	principal, err := e.principals.GetByName(ctx, p.Name)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			// Authenticated by token but not provisioned: no group access.
			return ForPrincipal(p.Name, p.IsAdmin, nil), nil
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	groupIDs, err := e.groups.GroupIDsForPrincipal(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup groups: %w", err)
	}
	return ForPrincipal(principal.Name, principal.IsAdmin || p.IsAdmin, groupIDs), nil
}

// ForRequest resolves capabilities for a request that targets queryID. An
// authenticated principal wins; otherwise a query API key in ctx must belong
// to queryID. A key for another query is reported as not found.
func (e *Evaluator) ForRequest(ctx context.Context, queryID string) (*Capabilities, error) {
	if _, ok := domain.PrincipalFromContext(ctx); ok {
		return e.ForContext(ctx)
	}
	key, ok := domain.QueryAPIKeyFromContext(ctx)
	if !ok {
		return nil, domain.ErrAccessDenied("authentication required")
	}
	q, err := e.queries.GetByID(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(q.APIKey), []byte(key)) != 1 {
		return nil, domain.ErrNotFound("query %q not found", queryID)
	}
	return FromQueryAPIKey(q), nil
}

// CanExecute decides whether caps may run q on ds. Checks run in order: paused
// source, membership, then the view-only parameter safety rule.
func (e *Evaluator) CanExecute(caps *Capabilities, q *domain.Query, ds *domain.DataSource) error {
	if ds.Paused {
		return domain.ErrDataSourcePaused(ds)
	}
	if caps.QueryScoped() {
		return domain.ErrAccessDenied("query API keys cannot execute queries")
	}
	if !caps.memberOf(ds) {
		return domain.ErrAccessDenied("no execute access to data source %q", ds.Name)
	}
	if ds.ViewOnly && (q == nil || !q.HasSafeParameters()) {
		return domain.ErrAccessDenied("data source %q is view-only and the query has unsafe parameters", ds.Name)
	}
	return nil
}

// CanView decides whether caps may read cached results of ds. View-only
// membership still grants view.
func (e *Evaluator) CanView(caps *Capabilities, ds *domain.DataSource) error {
	if !caps.memberOf(ds) {
		return domain.ErrAccessDenied("no view access to data source %q", ds.Name)
	}
	return nil
}

// CanViewResult decides whether caps may read res, which belongs to ds, in
// the context of q. q may be nil for direct result access by a principal.
//
// Key-scoped capabilities only see results matching their own query's
// fingerprint or its latest-result pointer. Anything else is not found.
func (e *Evaluator) CanViewResult(caps *Capabilities, q *domain.Query, res *domain.Result, ds *domain.DataSource) error {
	if caps.QueryScoped() {
		scoped := caps.ScopedQuery()
		if q == nil || q.ID != scoped.ID || !ResultBelongsTo(res, scoped) {
			return domain.ErrNotFound("query result %q not found", res.ID)
		}
		return nil
	}
	return e.CanView(caps, ds)
}

// ResultBelongsTo reports whether res was produced by q's current fingerprint
// or is q's latest result.
func ResultBelongsTo(res *domain.Result, q *domain.Query) bool {
	if q.LatestResultID != nil && *q.LatestResultID == res.ID {
		return true
	}
	return res.DataSourceID == q.DataSourceID && res.QueryHash == q.QueryHash
}
