package security

import "querydesk/internal/domain"

// Capabilities is what a caller may do, derived either from an authenticated
// principal's group memberships or from a query-scoped API key.
type Capabilities struct {
	name   string
	admin  bool
	groups map[string]bool
	query  *domain.Query // set only for query-key capabilities
}

// ForPrincipal builds capabilities for an authenticated principal.
func ForPrincipal(name string, admin bool, groupIDs []string) *Capabilities {
	groups := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = true
	}
	return &Capabilities{name: name, admin: admin, groups: groups}
}

// FromQueryAPIKey builds capabilities bound to a single query. They can read
// that query's results and nothing else.
func FromQueryAPIKey(q *domain.Query) *Capabilities {
	return &Capabilities{name: "api_key:" + q.ID, query: q}
}

// Name identifies the caller in audit entries and logs.
func (c *Capabilities) Name() string {
	if c == nil {
		return "anonymous"
	}
	return c.name
}

// IsAdmin reports whether the caller is an administrator.
func (c *Capabilities) IsAdmin() bool {
	return c != nil && c.admin
}

// QueryScoped reports whether these capabilities come from a query API key.
func (c *Capabilities) QueryScoped() bool {
	return c != nil && c.query != nil
}

// ScopedQuery returns the query a key-based capability is bound to.
func (c *Capabilities) ScopedQuery() *domain.Query {
	if c == nil {
		return nil
	}
	return c.query
}

func (c *Capabilities) memberOf(ds *domain.DataSource) bool {
	if c == nil || c.query != nil {
		return false
	}
	if c.admin {
		return true
	}
	for _, g := range ds.Groups {
		if c.groups[g] {
			return true
		}
	}
	return false
}
