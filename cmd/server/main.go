package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"querydesk/internal/api"
	"querydesk/internal/app"
	"querydesk/internal/config"
	internaldb "querydesk/internal/db"
	"querydesk/internal/middleware"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file (if present)
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("could not load .env", "error", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ms, err := internaldb.Open(cfg.MetaDBPath, internaldb.Options{})
	if err != nil {
		return err
	}
	defer ms.Close() //nolint:errcheck
	writeDB, readDB := ms.Write, ms.Read

	version, err := internaldb.Migrate(ctx, writeDB)
	if err != nil {
		return err
	}
	logger.Info("metastore ready", "path", cfg.MetaDBPath, "schema_version", version)

	a, err := app.New(ctx, app.Deps{Cfg: cfg, WriteDB: writeDB, ReadDB: readDB, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.Scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(a, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pool.Run(gctx) })
	if a.RateLimiter != nil {
		g.Go(func() error {
			a.RateLimiter.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "",
			"try", "curl -H 'X-API-Key: <key>' http://"+curlHostForListenAddr(cfg.ListenAddr)+"/api/queue_status")
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRouter mounts the API behind the middleware stack. Health checks stay
// unauthenticated.
func newRouter(a *app.App, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", cfg.Auth.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", api.Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Use(a.Authenticator.Middleware())
		if a.RateLimiter != nil {
			r.Use(a.RateLimiter.Middleware())
		}
		a.Handler.Routes(r)
	})
	return r
}

// curlHostForListenAddr turns a listen address into a host:port usable from
// the local machine.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
