// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"querydesk/internal/domain"
)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	InsertFn func(ctx context.Context, e *domain.AuditEntry) error
	ListFn   func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)

	mu      sync.Mutex
	Entries []*domain.AuditEntry // collected entries for assertions
}

// Insert implements the interface method for testing.
func (m *MockAuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// HasAction returns true if any collected entry has the given action.
func (m *MockAuditRepo) HasAction(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

// === Query Result Repository Mock ===

// MockQueryResultRepo implements domain.QueryResultRepository for testing.
type MockQueryResultRepo struct {
	CreateFn       func(ctx context.Context, r *domain.Result) (*domain.Result, error)
	GetByIDFn      func(ctx context.Context, id string) (*domain.Result, error)
	GetLatestFn    func(ctx context.Context, dataSourceID, queryHash string) (*domain.Result, error)
	DeleteUnusedFn func(ctx context.Context, olderThan time.Time) (int64, error)
}

// Create implements the interface method for testing.
func (m *MockQueryResultRepo) Create(ctx context.Context, r *domain.Result) (*domain.Result, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, r)
	}
	panic("unexpected call to MockQueryResultRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockQueryResultRepo) GetByID(ctx context.Context, id string) (*domain.Result, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockQueryResultRepo.GetByID")
}

// GetLatest implements the interface method for testing.
func (m *MockQueryResultRepo) GetLatest(ctx context.Context, dataSourceID, queryHash string) (*domain.Result, error) {
	if m.GetLatestFn != nil {
		return m.GetLatestFn(ctx, dataSourceID, queryHash)
	}
	panic("unexpected call to MockQueryResultRepo.GetLatest")
}

// DeleteUnused implements the interface method for testing.
func (m *MockQueryResultRepo) DeleteUnused(ctx context.Context, olderThan time.Time) (int64, error) {
	if m.DeleteUnusedFn != nil {
		return m.DeleteUnusedFn(ctx, olderThan)
	}
	panic("unexpected call to MockQueryResultRepo.DeleteUnused")
}

// === Query Runner Mock ===

// MockQueryRunner implements domain.QueryRunner for testing.
type MockQueryRunner struct {
	RunFn func(ctx context.Context, ds *domain.DataSource, queryText string) (*domain.ResultData, error)

	mu    sync.Mutex
	Texts []string // executed query texts, in order
}

// Run implements the interface method for testing.
func (m *MockQueryRunner) Run(ctx context.Context, ds *domain.DataSource, queryText string) (*domain.ResultData, error) {
	m.mu.Lock()
	m.Texts = append(m.Texts, queryText)
	m.mu.Unlock()
	if m.RunFn != nil {
		return m.RunFn(ctx, ds, queryText)
	}
	return &domain.ResultData{
		Columns: []domain.Column{{Name: "n"}},
		Rows:    []domain.Row{{"n": 1}},
	}, nil
}

// Calls returns how many times Run was invoked.
func (m *MockQueryRunner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Texts)
}
