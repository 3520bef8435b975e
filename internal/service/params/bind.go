// Package params binds parameter values into query templates and resolves
// dropdown options for query-typed parameters.
package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"querydesk/internal/domain"
)

// placeholderRe matches {{ name }} and {{ name.start }} style placeholders.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)(?:\.([A-Za-z_]+))?\s*\}\}`)

// Accepted input layouts per date-like type. The first layout is canonical.
var dateLayouts = map[domain.ParameterType][]string{
	domain.ParamDate:                {"2006-01-02"},
	domain.ParamDateTimeLocal:       {"2006-01-02 15:04", "2006-01-02T15:04"},
	domain.ParamDateTimeWithSeconds: {"2006-01-02 15:04:05", "2006-01-02T15:04:05"},
}

// Bound is a query template with every placeholder substituted.
type Bound struct {
	Text string
	// Params holds the normalized value of every bound parameter. It feeds the
	// fingerprint.
	Params map[string]any
}

// Placeholders returns the distinct placeholder names in text, in order of
// first appearance.
func Placeholders(text string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Schema returns the declared parameters of q plus a raw parameter for every
// placeholder that q does not declare.
func Schema(q *domain.Query) []domain.Parameter {
	schema := slices.Clone(q.Parameters)
	for _, name := range Placeholders(q.QueryText) {
		if !slices.ContainsFunc(schema, func(p domain.Parameter) bool { return p.Name == name }) {
			schema = append(schema, domain.Parameter{Name: name, Type: domain.ParamRaw})
		}
	}
	return schema
}

// Bind validates values against q's parameter schema and substitutes them
// into the query text. Missing or malformed values are validation errors.
func (r *Resolver) Bind(ctx context.Context, q *domain.Query, values map[string]any) (*Bound, error) {
	schema := Schema(q)
	rendered := make(map[string]boundValue, len(schema))
	normalized := make(map[string]any, len(schema))

	for _, p := range schema {
		v, ok := values[p.Name]
		if !ok || v == nil {
			if p.Default == nil {
				return nil, domain.ErrValidation("parameter %q is missing a value", p.Name)
			}
			v = *p.Default
		}
		if err := r.bindOne(ctx, p, v, rendered, normalized); err != nil {
			return nil, err
		}
	}

	text, err := substitute(q.QueryText, func(key string, state lexState) (string, error) {
		v, ok := rendered[key]
		if !ok {
			return "", domain.ErrValidation("placeholder %q has no value", key)
		}
		return v.render(key, state)
	})
	if err != nil {
		return nil, err
	}
	return &Bound{Text: text, Params: normalized}, nil
}

func (r *Resolver) bindOne(ctx context.Context, p domain.Parameter, v any, rendered map[string]boundValue, normalized map[string]any) error {
	switch p.Type {
	case domain.ParamNumber:
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.ErrValidation("parameter %q must be a finite number", p.Name)
		}
		s := strconv.FormatFloat(f, 'f', -1, 64)
		rendered[p.Name] = boundValue{s: s, kind: kindNumber}
		normalized[p.Name] = s

	case domain.ParamDate, domain.ParamDateTimeLocal, domain.ParamDateTimeWithSeconds:
		s, err := parseDate(p.Type, v)
		if err != nil {
			return domain.ErrValidation("parameter %q: %s", p.Name, err.Error())
		}
		rendered[p.Name] = boundValue{s: s}
		normalized[p.Name] = s

	case domain.ParamDateRange:
		start, end, err := parseDateRange(v)
		if err != nil {
			return domain.ErrValidation("parameter %q: %s", p.Name, err.Error())
		}
		rendered[p.Name+".start"] = boundValue{s: start}
		rendered[p.Name+".end"] = boundValue{s: end}
		normalized[p.Name] = map[string]any{"start": start, "end": end}

	case domain.ParamEnum:
		s, err := cast.ToStringE(v)
		if err != nil || !slices.Contains(p.Options, s) {
			return domain.ErrValidation("parameter %q must be one of %v", p.Name, p.Options)
		}
		rendered[p.Name] = boundValue{s: s}
		normalized[p.Name] = s

	case domain.ParamQuery:
		s, err := cast.ToStringE(v)
		if err != nil {
			return domain.ErrValidation("parameter %q must be a string", p.Name)
		}
		if p.QueryID == nil {
			return domain.ErrValidation("parameter %q has no dropdown query", p.Name)
		}
		ok, err := r.isDropdownValue(ctx, *p.QueryID, s)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrValidation("parameter %q: %q is not an available option", p.Name, s)
		}
		rendered[p.Name] = boundValue{s: s}
		normalized[p.Name] = s

	case domain.ParamText:
		s, err := cast.ToStringE(v)
		if err != nil {
			return domain.ErrValidation("parameter %q must be text", p.Name)
		}
		rendered[p.Name] = boundValue{s: s}
		normalized[p.Name] = s

	case domain.ParamRaw:
		s, err := cast.ToStringE(v)
		if err != nil {
			return domain.ErrValidation("parameter %q has an unsupported value", p.Name)
		}
		rendered[p.Name] = boundValue{s: s, kind: kindRaw}
		normalized[p.Name] = s

	default:
		return domain.ErrValidation("parameter %q has unknown type %q", p.Name, p.Type)
	}
	return nil
}

func (r *Resolver) isDropdownValue(ctx context.Context, dropdownID, value string) (bool, error) {
	dropdown, err := r.queries.GetByID(ctx, dropdownID)
	if err != nil {
		return false, fmt.Errorf("load dropdown query: %w", err)
	}
	opts, err := r.options(ctx, dropdown)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(opts, func(o Option) bool { return o.Value == value }), nil
}

func parseDate(typ domain.ParameterType, v any) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", errors.New("expected a date string")
	}
	layouts := dateLayouts[typ]
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.Format(layouts[0]), nil
		}
	}
	return "", fmt.Errorf("%q does not match %s", s, layouts[0])
}

func parseDateRange(v any) (start, end string, err error) {
	if s, ok := v.(string); ok {
		var m map[string]any
		if jsonErr := json.Unmarshal([]byte(s), &m); jsonErr != nil {
			return "", "", errors.New("expected an object with start and end")
		}
		v = m
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return "", "", errors.New("expected an object with start and end")
	}
	if start, err = parseDate(domain.ParamDate, m["start"]); err != nil {
		return "", "", fmt.Errorf("start: %w", err)
	}
	if end, err = parseDate(domain.ParamDate, m["end"]); err != nil {
		return "", "", fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}
