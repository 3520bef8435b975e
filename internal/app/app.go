// Package app provides application-level wiring and dependency injection
// for the querydesk server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"querydesk/internal/api"
	"querydesk/internal/config"
	"querydesk/internal/db/crypto"
	"querydesk/internal/db/repository"
	"querydesk/internal/engine"
	"querydesk/internal/middleware"
	"querydesk/internal/service/datasource"
	"querydesk/internal/service/jobs"
	"querydesk/internal/service/params"
	"querydesk/internal/service/query"
	"querydesk/internal/service/results"
	"querydesk/internal/service/schedule"
	"querydesk/internal/service/security"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// Services groups the services behind the HTTP handler.
type Services struct {
	Query      *query.Service
	DataSource *datasource.Service
	Params     *params.Resolver
	Jobs       *jobs.Coordinator
	Evaluator  *security.Evaluator
}

// App holds the fully-wired application: the HTTP handler with its
// middleware, plus the background workers main() runs.
type App struct {
	Services      Services
	Handler       *api.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter // nil when rate limiting is disabled
	Pool          *jobs.Pool
	Scheduler     *schedule.Scheduler
	Engine        *engine.Registry
}

// New wires all repositories, services and workers from the provided deps.
// It also applies the bootstrap seed file when one is configured.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var cipher *crypto.Cipher
	if cfg.EncryptionKey != "" {
		c, err := crypto.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		cipher = c
	}

	// === Repositories (write-pool) ===
	principalRepo := repository.NewPrincipalRepo(deps.WriteDB)
	groupRepo := repository.NewGroupRepo(deps.WriteDB)
	dataSourceRepo := repository.NewDataSourceRepo(deps.WriteDB).WithCipher(cipher)
	queryRepo := repository.NewQueryRepo(deps.WriteDB)
	resultRepo := repository.NewQueryResultRepo(deps.WriteDB)
	jobRepo := repository.NewJobRepo(deps.WriteDB)
	auditRepo := repository.NewAuditRepo(deps.WriteDB)

	// === Repositories (read-pool) ===
	apiKeyRepo := repository.NewAPIKeyRepo(deps.ReadDB)

	if cfg.BootstrapFile != "" {
		seed, err := LoadSeed(cfg.BootstrapFile)
		if err != nil {
			return nil, err
		}
		seeder := &Seeder{
			Principals:  principalRepo,
			Groups:      groupRepo,
			APIKeys:     repository.NewAPIKeyRepo(deps.WriteDB),
			DataSources: dataSourceRepo,
			Logger:      logger.With("component", "seed"),
		}
		if err := seeder.Apply(ctx, seed); err != nil {
			return nil, fmt.Errorf("apply bootstrap file: %w", err)
		}
	}

	// === Core services ===
	eval := security.NewEvaluator(principalRepo, groupRepo, queryRepo)
	cache := results.NewCache(resultRepo, logger.With("component", "result-cache"))
	resolver := params.NewResolver(queryRepo, dataSourceRepo, resultRepo, eval)
	coord := jobs.NewCoordinator(jobRepo, dataSourceRepo, logger.With("component", "jobs"))
	querySvc := query.NewService(queryRepo, dataSourceRepo, resultRepo, cache, eval, resolver, coord, auditRepo,
		logger.With("component", "query"))
	dataSourceSvc := datasource.NewService(dataSourceRepo, eval, auditRepo, logger.With("component", "data-source"))

	// === Workers ===
	registry := engine.NewRegistry(logger.With("component", "engine"))
	pool := jobs.NewPool(jobs.PoolConfig{
		Queues:           cfg.Worker.Queues,
		Concurrency:      cfg.Worker.Concurrency,
		PollInterval:     cfg.Worker.PollInterval,
		ExecutionTimeout: cfg.Worker.ExecutionTimeout,
	}, jobRepo, dataSourceRepo, queryRepo, cache, registry, logger.With("component", "worker"))
	scheduler := schedule.NewScheduler(querySvc, cache, queryRepo, schedule.Config{
		CleanupSchedule: cfg.Results.CleanupSchedule,
		CleanupMaxAge:   cfg.Results.CleanupMaxAge,
	}, logger)
	querySvc.SetScheduleNotifier(scheduler)

	// === HTTP ===
	verifiers, err := tokenVerifiers(ctx, cfg.Auth)
	if err != nil {
		return nil, err
	}
	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		})
	}

	services := Services{
		Query:      querySvc,
		DataSource: dataSourceSvc,
		Params:     resolver,
		Jobs:       coord,
		Evaluator:  eval,
	}
	return &App{
		Services: services,
		Handler: api.NewHandler(api.Config{
			Queries:     querySvc,
			Params:      resolver,
			Jobs:        coord,
			DataSources: dataSourceSvc,
			Evaluator:   eval,
			CacheMaxAge: cfg.Results.CacheMaxAge,
			Logger:      logger.With("component", "api"),
		}),
		Authenticator: middleware.NewAuthenticator(verifiers, apiKeyRepo, cfg.Auth.APIKeyHeader, logger.With("component", "auth")),
		RateLimiter:   limiter,
		Pool:          pool,
		Scheduler:     scheduler,
		Engine:        registry,
	}, nil
}

// Close releases the data source connection pools.
func (a *App) Close() error {
	return a.Engine.Close()
}

// tokenVerifiers builds the bearer token verifiers in the order they are
// tried: the identity provider first, then the shared secret.
func tokenVerifiers(ctx context.Context, cfg config.AuthConfig) ([]middleware.TokenVerifier, error) {
	var verifiers []middleware.TokenVerifier
	switch {
	case cfg.JWKSURL != "":
		verifiers = append(verifiers, middleware.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.IssuerURL, cfg.Audience))
	case cfg.IssuerURL != "":
		v, err := middleware.NewOIDCVerifier(ctx, cfg.IssuerURL, cfg.Audience)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		verifiers = append(verifiers, v)
	}
	if cfg.JWTSecret != "" {
		v, err := middleware.NewSharedSecretVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("jwt secret: %w", err)
		}
		verifiers = append(verifiers, v)
	}
	return verifiers, nil
}
