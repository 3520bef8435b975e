// Package results implements the fingerprint-keyed result cache and its
// freshness policy.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"querydesk/internal/domain"
)

// Cache answers "latest result for a fingerprint" lookups and freshness checks.
type Cache struct {
	repo   domain.QueryResultRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewCache creates a Cache backed by repo.
func NewCache(repo domain.QueryResultRepository, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{repo: repo, logger: logger, now: time.Now}
}

// SetClock replaces the clock used for freshness checks.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns the most recent result for the fingerprint. A miss is reported
// through the bool, never as an error.
func (c *Cache) Get(ctx context.Context, dataSourceID, queryHash string) (*domain.Result, bool, error) {
	res, err := c.repo.GetLatest(ctx, dataSourceID, queryHash)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			c.logger.DebugContext(ctx, "result cache miss", "data_source_id", dataSourceID, "query_hash", queryHash)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached result: %w", err)
	}
	return res, true, nil
}

// Put stores a new result. The newest retrieved_at wins on later lookups.
func (c *Cache) Put(ctx context.Context, res *domain.Result) (*domain.Result, error) {
	if res.DataSourceID == "" || res.QueryHash == "" {
		return nil, domain.ErrValidation("result requires data source and query hash")
	}
	if res.RetrievedAt.IsZero() {
		res.RetrievedAt = c.now()
	}
	stored, err := c.repo.Create(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}
	return stored, nil
}

// IsFresh applies the max_age policy in seconds. A negative maxAge accepts any
// cached result and zero accepts none.
func (c *Cache) IsFresh(res *domain.Result, maxAge int) bool {
	if res == nil {
		return false
	}
	switch {
	case maxAge < 0:
		return true
	case maxAge == 0:
		return false
	}
	return c.now().Sub(res.RetrievedAt) <= time.Duration(maxAge)*time.Second
}

// Lookup returns a cached result only when it satisfies maxAge.
func (c *Cache) Lookup(ctx context.Context, dataSourceID, queryHash string, maxAge int) (*domain.Result, error) {
	if maxAge == 0 {
		return nil, nil
	}
	res, ok, err := c.Get(ctx, dataSourceID, queryHash)
	if err != nil || !ok {
		return nil, err
	}
	if !c.IsFresh(res, maxAge) {
		return nil, nil
	}
	return res, nil
}

// Cleanup removes results older than maxAge that no query references.
func (c *Cache) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := c.repo.DeleteUnused(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("delete unused results: %w", err)
	}
	if n > 0 {
		c.logger.InfoContext(ctx, "removed unused query results", "count", n)
	}
	return n, nil
}
