// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// AuthConfig holds authentication and identity provider configuration.
type AuthConfig struct {
	IssuerURL    string // OIDC issuer URL, discovered via .well-known
	JWKSURL      string // JWKS URL when the issuer has no discovery document
	Audience     string // required aud claim for OIDC tokens
	JWTSecret    string // HS256 shared secret for local/dev tokens
	APIKeyHeader string // header carrying user API keys (default X-API-Key)
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// WorkerConfig sizes the job worker pool.
type WorkerConfig struct {
	Queues           []string
	Concurrency      int
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
}

// ResultConfig controls result caching on the HTTP surface and cleanup.
type ResultConfig struct {
	// CacheMaxAge is the Cache-Control max-age, in seconds, sent with results
	// fetched by id.
	CacheMaxAge     int
	CleanupSchedule string
	CleanupMaxAge   time.Duration
}

// Config holds the configuration for the API server and workers.
type Config struct {
	MetaDBPath        string // path to the SQLite metastore
	ListenAddr        string // HTTP listen address (default ":8080")
	TLSCertFile       string
	TLSKeyFile        string
	AllowInsecureHTTP bool   // allow a plain listener in production behind TLS termination
	EncryptionKey     string // 64-char hex AES key sealing data source options; empty stores them plain
	LogLevel          string // debug, info, warn, error (default "info")
	Env               string // "development" (default) or "production"
	BootstrapFile     string // optional YAML seed applied at startup

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	Auth    AuthConfig
	Worker  WorkerConfig
	Results ResultConfig

	// Warnings collects non-fatal problems found while loading. The caller
	// logs them once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Malformed
// numeric or duration values are errors rather than silently defaulted.
func LoadFromEnv() (*Config, error) {
	env := envReader{}
	cfg := &Config{
		MetaDBPath:        env.str("META_DB_PATH", "querydesk.sqlite"),
		ListenAddr:        env.str("LISTEN_ADDR", ":8080"),
		TLSCertFile:       os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:        os.Getenv("TLS_KEY_FILE"),
		AllowInsecureHTTP: env.boolean("ALLOW_INSECURE_HTTP", false),
		EncryptionKey:     os.Getenv("ENCRYPTION_KEY"),
		LogLevel:          env.str("LOG_LEVEL", "info"),
		Env:               env.str("ENV", "development"),
		BootstrapFile:     os.Getenv("BOOTSTRAP_FILE"),

		RateLimitRPS:       env.float("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     env.integer("RATE_LIMIT_BURST", 200),
		CORSAllowedOrigins: env.list("CORS_ALLOWED_ORIGINS", []string{"*"}),

		Auth: AuthConfig{
			IssuerURL:    os.Getenv("AUTH_ISSUER_URL"),
			JWKSURL:      os.Getenv("AUTH_JWKS_URL"),
			Audience:     os.Getenv("AUTH_AUDIENCE"),
			JWTSecret:    os.Getenv("JWT_SECRET"),
			APIKeyHeader: env.str("AUTH_API_KEY_HEADER", "X-API-Key"),
		},
		Worker: WorkerConfig{
			Queues:           env.list("WORKER_QUEUES", []string{"queries", "scheduled_queries"}),
			Concurrency:      env.integer("WORKER_CONCURRENCY", 2),
			PollInterval:     env.duration("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			ExecutionTimeout: env.duration("WORKER_EXECUTION_TIMEOUT", 5*time.Minute),
		},
		Results: ResultConfig{
			CacheMaxAge:     env.integer("RESULT_CACHE_MAX_AGE", 31536000),
			CleanupSchedule: env.str("RESULT_CLEANUP_SCHEDULE", "@daily"),
			CleanupMaxAge:   env.duration("RESULT_CLEANUP_MAX_AGE", 7*24*time.Hour),
		},
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, errors.New("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if cfg.Auth.IssuerURL != "" && cfg.Auth.Audience == "" {
		return nil, errors.New("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	if cfg.Worker.Concurrency < 0 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must not be negative, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Results.CacheMaxAge < 0 {
		return nil, fmt.Errorf("RESULT_CACHE_MAX_AGE must not be negative, got %d", cfg.Results.CacheMaxAge)
	}

	if !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "no bearer token verifier configured: only API keys will authenticate")
	}
	if cfg.EncryptionKey == "" {
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set: data source options are stored unencrypted")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Auth.JWTSecret != "" && !cfg.Auth.OIDCEnabled() {
			return nil, errors.New("OIDC must be configured in production (set AUTH_ISSUER_URL or AUTH_JWKS_URL)")
		}
		if cfg.EncryptionKey == "" {
			return nil, errors.New("ENCRYPTION_KEY must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, errors.New("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.TLSCertFile == "" && !cfg.AllowInsecureHTTP {
			return nil, errors.New("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
		}
	}

	return cfg, nil
}

// envReader reads typed environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) list(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *envReader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// duration accepts Go duration strings; a bare integer is read as seconds.
func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// LoadDotEnv reads KEY=VALUE lines from path into the environment. Variables
// already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, unquote(strings.TrimSpace(value))); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
