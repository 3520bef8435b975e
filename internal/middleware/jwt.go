// Package middleware provides HTTP middleware for authentication, request
// ids and rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// adminClaim is the boolean claim that marks a token holder as admin.
const adminClaim = "is_admin"

// Identity is the caller identity extracted from a verified bearer token.
type Identity struct {
	Subject  string
	Issuer   string
	Audience []string
	Email    *string
	Admin    bool
}

// TokenVerifier verifies a bearer token and returns the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// OIDCVerifier verifies tokens against an OIDC provider's signing keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL.
func NewOIDCVerifier(ctx context.Context, issuerURL, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(oidcConfig(audience))}, nil
}

// NewJWKSVerifier verifies tokens from issuerURL with keys fetched from
// jwksURL, skipping discovery.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuerURL, audience string) *OIDCVerifier {
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuerURL, keySet, oidcConfig(audience))}
}

func oidcConfig(audience string) *oidc.Config {
	return &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
}

// Verify implements TokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	id := identityFromClaims(raw)
	id.Subject = idToken.Subject
	id.Issuer = idToken.Issuer
	id.Audience = idToken.Audience
	return id, nil
}

// SharedSecretVerifier verifies HS256 tokens signed with a shared secret.
type SharedSecretVerifier struct {
	secret []byte
}

// NewSharedSecretVerifier creates a verifier for HS256 tokens.
func NewSharedSecretVerifier(secret string) (*SharedSecretVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &SharedSecretVerifier{secret: []byte(secret)}, nil
}

// Verify implements TokenVerifier.
func (v *SharedSecretVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	tok, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	return identityFromClaims(raw), nil
}

func identityFromClaims(raw map[string]any) *Identity {
	id := &Identity{}
	id.Subject, _ = raw["sub"].(string)
	id.Issuer, _ = raw["iss"].(string)
	id.Admin, _ = raw[adminClaim].(bool)
	if email, ok := raw["email"].(string); ok {
		id.Email = &email
	}
	switch aud := raw["aud"].(type) {
	case string:
		id.Audience = []string{aud}
	case []any:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				id.Audience = append(id.Audience, s)
			}
		}
	}
	return id
}
