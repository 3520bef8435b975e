package domain

import "time"

// ParameterType is the closed set of parameter kinds a query template may declare.
type ParameterType string

// Parameter types.
const (
	ParamText                ParameterType = "text"
	ParamNumber              ParameterType = "number"
	ParamDate                ParameterType = "date"
	ParamDateTimeLocal       ParameterType = "datetime-local"
	ParamDateTimeWithSeconds ParameterType = "datetime-with-seconds"
	ParamDateRange           ParameterType = "date-range"
	ParamEnum                ParameterType = "enum"
	ParamQuery               ParameterType = "query"
	// ParamRaw values are spliced into the query text verbatim. Ad-hoc
	// placeholders without a declaration are treated as raw.
	ParamRaw ParameterType = "raw"
)

// parameterSafety lists the parameter types that may run on a view-only data
// source. Any type missing from this table is unsafe. New parameter types must
// be added here explicitly.
var parameterSafety = map[ParameterType]bool{
	ParamText:                true,
	ParamNumber:              true,
	ParamDate:                true,
	ParamDateTimeLocal:       true,
	ParamDateTimeWithSeconds: true,
	ParamDateRange:           true,
	ParamEnum:                true,
	ParamQuery:               true,
	ParamRaw:                 false,
}

// IsSafe reports whether values of this type cannot change query semantics.
func (t ParameterType) IsSafe() bool {
	return parameterSafety[t]
}

// IsKnown reports whether t is a recognized parameter type.
func (t ParameterType) IsKnown() bool {
	_, ok := parameterSafety[t]
	return ok
}

// Parameter is one entry of a query's parameter schema.
type Parameter struct {
	Name    string        `json:"name"`
	Title   string        `json:"title,omitempty"`
	Type    ParameterType `json:"type"`
	QueryID *string       `json:"queryId,omitempty"`
	Options []string      `json:"enumOptions,omitempty"`
	Default *string       `json:"value,omitempty"`
}

// Query is a saved query template bound to a data source.
type Query struct {
	ID             string
	DataSourceID   string
	Name           string
	QueryText      string
	QueryHash      string
	Parameters     []Parameter
	LatestResultID *string
	APIKey         string
	Schedule       *string // cron expression for scheduled refresh
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasSafeParameters reports whether every declared parameter is of a safe type.
func (q *Query) HasSafeParameters() bool {
	for _, p := range q.Parameters {
		if !p.Type.IsSafe() {
			return false
		}
	}
	return true
}

// ReferencesDropdown reports whether queryID is the source of one of this
// query's query-typed parameters.
func (q *Query) ReferencesDropdown(queryID string) bool {
	for _, p := range q.Parameters {
		if p.Type == ParamQuery && p.QueryID != nil && *p.QueryID == queryID {
			return true
		}
	}
	return false
}

// CreateQueryRequest holds parameters for saving a new query.
type CreateQueryRequest struct {
	DataSourceID string
	Name         string
	QueryText    string
	Parameters   []Parameter
	Schedule     *string
	CreatedBy    string
}

// Validate checks that the request is well-formed.
func (r *CreateQueryRequest) Validate() error {
	if r.DataSourceID == "" {
		return ErrValidation("data_source_id is required")
	}
	if r.QueryText == "" {
		return ErrValidation("query text is required")
	}
	seen := make(map[string]bool, len(r.Parameters))
	for _, p := range r.Parameters {
		if p.Name == "" {
			return ErrValidation("parameter name is required")
		}
		if seen[p.Name] {
			return ErrValidation("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if !p.Type.IsKnown() {
			return ErrValidation("parameter %q has unknown type %q", p.Name, p.Type)
		}
		if p.Type == ParamQuery && (p.QueryID == nil || *p.QueryID == "") {
			return ErrValidation("parameter %q of type query requires queryId", p.Name)
		}
	}
	return nil
}
