package cli

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizeHost validates a server base URL and returns it without a
// trailing slash or "/api" suffix, since the client adds the API prefix.
func normalizeHost(host string) (string, error) {
	raw := strings.TrimSpace(host)
	if raw == "" {
		return "", fmt.Errorf("invalid host %q: host URL cannot be empty", host)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid host %q: scheme must be http or https", host)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q: missing host", host)
	}
	if u.User != nil {
		return "", fmt.Errorf("invalid host %q: credentials belong in --api-key or --token", host)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid host %q: host must not include query or fragment", host)
	}
	switch strings.TrimSuffix(u.Path, "/") {
	case "", "/api":
	default:
		return "", fmt.Errorf("invalid host %q: host must not include a path", host)
	}

	return u.Scheme + "://" + u.Host, nil
}
