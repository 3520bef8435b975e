package domain

import "context"

type principalKey struct{}

type queryAPIKeyKey struct{}

// ContextPrincipal carries the authenticated identity through request context.
type ContextPrincipal struct {
	Name    string
	IsAdmin bool
	Type    string // PrincipalTypeUser or PrincipalTypeService
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// WithQueryAPIKey stores a raw query-scoped API key presented by an
// unauthenticated caller. Resolution to a Query happens per route, because
// the key is only meaningful together with the query id in the path.
func WithQueryAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, queryAPIKeyKey{}, key)
}

// QueryAPIKeyFromContext extracts the raw query API key from the context.
func QueryAPIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(queryAPIKeyKey{}).(string)
	return key, ok && key != ""
}
