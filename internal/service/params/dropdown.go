package params

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"querydesk/internal/domain"
	"querydesk/internal/service/security"
)

// Option is one selectable value of a dropdown parameter.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Resolver binds parameters and serves dropdown options from cached results.
type Resolver struct {
	queries domain.QueryRepository
	sources domain.DataSourceRepository
	results domain.QueryResultRepository
	eval    *security.Evaluator
}

// NewResolver creates a Resolver.
func NewResolver(queries domain.QueryRepository, sources domain.DataSourceRepository, results domain.QueryResultRepository, eval *security.Evaluator) *Resolver {
	return &Resolver{queries: queries, sources: sources, results: results, eval: eval}
}

// ResolveDropdown returns the options of dropdownID as used by a parameter of
// parentID.
//
// The dropdown must back one of the parent's query-typed parameters. When it
// does not, callers who can see the dropdown's data source are told access is
// denied and everyone else gets not found. Access is then decided by the
// parent's data source alone. Options are read from the dropdown's cached
// result and never trigger an execution.
func (r *Resolver) ResolveDropdown(ctx context.Context, caps *security.Capabilities, parentID, dropdownID string) ([]Option, error) {
	parent, err := r.queries.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	dropdown, err := r.queries.GetByID(ctx, dropdownID)
	if err != nil {
		return nil, err
	}

	if !parent.ReferencesDropdown(dropdownID) {
		dds, err := r.sources.GetByID(ctx, dropdown.DataSourceID)
		if err == nil && r.eval.CanView(caps, dds) == nil {
			return nil, domain.ErrAccessDenied("query %q is not associated with dropdown %q", parentID, dropdownID)
		}
		return nil, domain.ErrNotFound("query %q not found", dropdownID)
	}

	pds, err := r.sources.GetByID(ctx, parent.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source: %w", err)
	}
	if err := r.eval.CanView(caps, pds); err != nil {
		return nil, err
	}
	return r.options(ctx, dropdown)
}

// QueryOptions returns the options a query produces when it is itself used as
// a dropdown. The caller needs view access to its data source.
func (r *Resolver) QueryOptions(ctx context.Context, caps *security.Capabilities, queryID string) ([]Option, error) {
	q, err := r.queries.GetByID(ctx, queryID)
	if err != nil {
		return nil, err
	}
	ds, err := r.sources.GetByID(ctx, q.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source: %w", err)
	}
	if err := r.eval.CanView(caps, ds); err != nil {
		return nil, err
	}
	return r.options(ctx, q)
}

// options projects the latest cached result of q into options. No cached
// result yields an empty list.
func (r *Resolver) options(ctx context.Context, q *domain.Query) ([]Option, error) {
	var (
		res *domain.Result
		err error
	)
	if q.LatestResultID != nil {
		res, err = r.results.GetByID(ctx, *q.LatestResultID)
	} else {
		res, err = r.results.GetLatest(ctx, q.DataSourceID, q.QueryHash)
	}
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			return []Option{}, nil
		}
		return nil, fmt.Errorf("load dropdown result: %w", err)
	}
	return OptionsFromResult(res.Data), nil
}

// OptionsFromResult maps rows to options. Name and value come from the
// columns called "name" and "value" when present, else from the first
// column. Keys are matched case-insensitively and missing keys are empty.
func OptionsFromResult(data domain.ResultData) []Option {
	first := ""
	if len(data.Columns) > 0 {
		first = strings.ToLower(data.Columns[0].Name)
	}

	opts := make([]Option, 0, len(data.Rows))
	for _, row := range data.Rows {
		lower := make(map[string]any, len(row))
		for k, v := range row {
			lower[strings.ToLower(k)] = v
		}
		nameKey, valueKey := first, first
		if _, ok := lower["name"]; ok {
			nameKey = "name"
		}
		if _, ok := lower["value"]; ok {
			valueKey = "value"
		}
		opts = append(opts, Option{
			Name:  cast.ToString(lower[nameKey]),
			Value: cast.ToString(lower[valueKey]),
		})
	}
	return opts
}
