// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/auth/memstore"
	"github.com/fieldops/gatekeeper/internal/auth/postgres"
	"github.com/fieldops/gatekeeper/internal/config"
	"github.com/fieldops/gatekeeper/internal/httpapi"
	"github.com/fieldops/gatekeeper/internal/logging"
	"github.com/fieldops/gatekeeper/internal/mail"
	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/internal/ratelimit"
	"github.com/fieldops/gatekeeper/internal/reset"
	"github.com/fieldops/gatekeeper/internal/sealer"
	"github.com/fieldops/gatekeeper/internal/secrand"
	"github.com/fieldops/gatekeeper/internal/store"
	"github.com/fieldops/gatekeeper/internal/token"
)

const shutdownTimeout = 5 * time.Second

// EnvDevPassword is the password of the --dev-subject account.
const EnvDevPassword = "GATEKEEPER_DEV_PASSWORD" //nolint:gosec // G101: variable name, not a credential

// devAccount seeds the in-memory store so a database-less server is usable.
type devAccount struct {
	subject, email string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var dev devAccount

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		Long: `Serve the /v1 API and, if metrics-addr is set, the metrics and health
endpoints. Without DATABASE_URL accounts are kept in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return oops.With("operation", "validate configuration").Wrap(err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, cfg, dev, cmd)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVar(&dev.subject, "dev-subject", "", "seed an in-memory account with this subject (password from "+EnvDevPassword+")")
	cmd.Flags().StringVar(&dev.email, "dev-email", "", "e-mail of the seeded in-memory account")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, dev devAccount, cmd *cobra.Command) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: "gatekeeper",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})

	// Weak randomness must never be substituted for a failed source.
	if err := secrand.Check(); err != nil {
		return oops.With("operation", "startup entropy check").Wrap(err)
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if dev.subject != "" {
		if err := a.seed(ctx, dev, os.Getenv(EnvDevPassword)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiErr, err := a.api.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErr, "api", logger)

	if cfg.Metrics.Addr != "" {
		obsErr, err := a.obs.Start()
		if err != nil {
			a.stop(logger)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErr, "observability", logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("gatekeeper started")
	logger.Info("gatekeeper ready",
		"api_addr", a.api.Addr(),
		"metrics_addr", cfg.Metrics.Addr,
		"store", a.storeKind,
		"ratelimit_backend", cfg.RateLimit.Backend,
		"reset_single_use", cfg.Reset.SingleUse,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	a.stop(logger)
	logger.Info("shutdown complete")
	return nil
}

// app is the wired service graph.
type app struct {
	api       *httpapi.Server
	obs       *observability.Server
	handler   http.Handler
	accounts  auth.AccountRepository
	auth      *auth.Service
	storeKind string
	closers   []func()
}

func (a *app) seed(ctx context.Context, dev devAccount, password string) error {
	if a.storeKind != "memory" {
		return oops.Code("CONFIG_INVALID").Errorf("--dev-subject is only allowed without %s", config.EnvDatabaseURL)
	}
	if _, err := a.auth.Register(ctx, dev.subject, dev.email, password); err != nil {
		return oops.With("operation", "seed dev account").Wrap(err)
	}
	return nil
}

func (a *app) stop(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.api.Stop(ctx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if err := a.obs.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires every component from cfg. Secrets must already be validated.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	keys, err := cfg.Secrets.Keys()
	if err != nil {
		return nil, err
	}

	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var checks []observability.ReadinessChecker
	if cfg.Secrets.DatabaseURL != "" {
		pool, connErr := store.Connect(ctx, cfg.Secrets.DatabaseURL, logger, store.ConnectOptions{})
		if connErr != nil {
			return nil, connErr
		}
		a.closers = append(a.closers, pool.Close)
		a.accounts = postgres.NewAccountRepository(pool)
		a.storeKind = "postgres"
		checks = append(checks, store.Readiness(pool))
	} else {
		logger.Warn("DATABASE_URL not set, accounts are kept in memory")
		a.accounts = memstore.New()
		a.storeKind = "memory"
	}

	var rdb *redis.Client
	if cfg.Secrets.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Secrets.RedisAddr})
		a.closers = append(a.closers, func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		})
		checks = append(checks, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	a.obs = observability.NewServer(cfg.Metrics.Addr, allReady(checks), logger)

	tokens, err := token.New(keys.SigningSecret, token.WithIssuer(cfg.Token.Issuer))
	if err != nil {
		return nil, err
	}
	cipher, err := sealer.New(keys.EncryptionKey)
	if err != nil {
		return nil, err
	}

	resetOpts := []reset.Option{reset.WithLogger(logger)}
	if cfg.Reset.SingleUse {
		var ledger reset.Ledger = reset.NewMemoryLedger(nil)
		if rdb != nil {
			if ledger, err = reset.NewRedisLedger(rdb, cfg.Redis.KeyPrefix+"reset:"); err != nil {
				return nil, err
			}
		}
		resetOpts = append(resetOpts, reset.WithLedger(ledger))
	}
	resets, err := reset.New(cipher, resetOpts...)
	if err != nil {
		return nil, err
	}

	hasher := auth.NewArgon2idHasher()
	a.auth, err = auth.NewServiceWithLogger(a.accounts, hasher, tokens, cfg.Token.TTL, logger)
	if err != nil {
		return nil, err
	}
	resetSvc, err := auth.NewPasswordResetService(a.accounts, resets, hasher, mail.NewLogMailer(logger, nil),
		auth.PasswordResetConfig{LinkBase: cfg.Reset.LinkBase, TTL: cfg.Reset.TTL, Logger: logger})
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg, rdb, a.obs)
	if err != nil {
		return nil, err
	}

	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	a.handler, err = httpapi.NewRouter(httpapi.Deps{
		Auth:           a.auth,
		Resets:         resetSvc,
		Verifier:       tokens,
		Limiter:        limiter,
		LimiterBackend: cfg.RateLimit.Backend,
		Metrics:        a.obs.AuthMetrics(),
		TrustedProxies: proxies,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	a.api = httpapi.NewServer(a.handler, httpapi.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		Logger:            logger,
	})
	return a, nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client, obs *observability.Server) (ratelimit.Limiter, error) {
	rl := cfg.RateLimit
	if rl.Backend == config.BackendRedis {
		if rdb == nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("redis rate limiter requires %s", config.EnvRedisAddr)
		}
		return ratelimit.NewRedisLimiter(rdb, rl.MaxRequests, rl.Window,
			ratelimit.WithRegisterer(obs.Registry()),
			ratelimit.WithKeyPrefix(cfg.Redis.KeyPrefix+"ratelimit:"),
		)
	}
	return ratelimit.NewFixedWindow(rl.MaxRequests, rl.Window, ratelimit.WithRegisterer(obs.Registry())), nil
}

// allReady combines readiness checks. No checks means always ready.
func allReady(checks []observability.ReadinessChecker) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
