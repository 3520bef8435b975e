package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"querydesk/internal/domain"
)

// DefaultAPIKeyHeader carries user API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// queryKeyParam is the query-string parameter that carries a query API key.
const queryKeyParam = "api_key"

// APIKeyLookup resolves a hashed user API key to a principal name.
type APIKeyLookup interface {
	LookupPrincipalByAPIKeyHash(ctx context.Context, keyHash string) (string, error)
}

// Authenticator identifies the caller of each request.
//
// A bearer token is checked against each verifier in order. Otherwise the API
// key header is looked up as a user key. An api_key query parameter, or an
// "Authorization: Key" header, is first tried as a user key and otherwise kept
// as a query API key whose scope the handlers check against the path.
type Authenticator struct {
	verifiers []TokenVerifier
	keys      APIKeyLookup
	header    string
	logger    *slog.Logger
}

// NewAuthenticator creates an Authenticator. An empty header selects
// DefaultAPIKeyHeader.
func NewAuthenticator(verifiers []TokenVerifier, keys APIKeyLookup, header string, logger *slog.Logger) *Authenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authenticator{verifiers: verifiers, keys: keys, header: header, logger: logger}
}

// Middleware rejects requests with no usable credentials with 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.handler(next)
	}
}

func (a *Authenticator) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token, ok := bearerToken(r); ok {
			id, err := a.verify(ctx, token)
			if err != nil {
				a.logger.DebugContext(ctx, "bearer token rejected", "error", err)
				writeUnauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, domain.ContextPrincipal{
				Name:    id.Subject,
				IsAdmin: id.Admin,
				Type:    domain.PrincipalTypeUser,
			})))
			return
		}

		if key := r.Header.Get(a.header); key != "" {
			name, err := a.lookup(ctx, key)
			if err != nil {
				writeUnauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(withKeyPrincipal(ctx, name)))
			return
		}

		if key := queryAPIKey(r); key != "" {
			if name, err := a.lookup(ctx, key); err == nil {
				next.ServeHTTP(w, r.WithContext(withKeyPrincipal(ctx, name)))
				return
			}
			recordPrincipal(ctx, "query_key")
			next.ServeHTTP(w, r.WithContext(domain.WithQueryAPIKey(ctx, key)))
			return
		}

		writeUnauthorized(w, "unauthorized: provide a bearer token or API key")
	})
}

func (a *Authenticator) verify(ctx context.Context, token string) (*Identity, error) {
	if len(a.verifiers) == 0 {
		return nil, errors.New("no token verifiers configured")
	}
	var errs []error
	for _, v := range a.verifiers {
		id, err := v.Verify(ctx, token)
		if err == nil {
			if id.Subject == "" {
				return nil, errors.New("token has no subject")
			}
			return id, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (a *Authenticator) lookup(ctx context.Context, key string) (string, error) {
	if a.keys == nil {
		return "", errors.New("API keys are not enabled")
	}
	return a.keys.LookupPrincipalByAPIKeyHash(ctx, domain.HashAPIKey(key))
}

func withKeyPrincipal(ctx context.Context, name string) context.Context {
	return withPrincipal(ctx, domain.ContextPrincipal{Name: name, Type: domain.PrincipalTypeService})
}

func withPrincipal(ctx context.Context, p domain.ContextPrincipal) context.Context {
	recordPrincipal(ctx, principalName(p))
	return domain.WithPrincipal(ctx, p)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return strings.TrimSpace(token), ok && strings.TrimSpace(token) != ""
}

func queryAPIKey(r *http.Request) string {
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Key "); ok {
		return strings.TrimSpace(key)
	}
	return r.URL.Query().Get(queryKeyParam)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    http.StatusUnauthorized,
		"message": msg,
	})
}
