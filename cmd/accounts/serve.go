// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/account/postgres"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/logging"
	"github.com/holomush/accounts/internal/mail"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/internal/ratelimit"
)

const readinessTimeout = 2 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the accounts HTTP API",
		Long: `Serve the accounts HTTP API together with the metrics and health
endpoints. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	cmd.Flags().String("http-addr", ":8080", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("redis-addr", "", "Redis address for issuance throttling (empty = disabled)")
	cmd.Flags().Bool("mail-disabled", false, "log account emails instead of sending them")
	cmd.Flags().Bool("expose-tokens", false, "include plaintext tokens in API responses (test environments only)")

	return cmd
}

// runServeWithDeps starts the API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault(cfg.LoggingOptions(version))
	logger.Info("starting accounts service",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"mail_disabled", cfg.Mail.Disabled,
		"throttling", cfg.Redis.Addr != "",
	)
	if cfg.HTTP.ExposeTokens {
		logger.Warn("plaintext tokens are exposed in API responses")
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, observability.PingReadiness(pool, readinessTimeout))
		metrics = obsServer.Metrics()
	}

	mailer, err := deps.MailerFactory(cfg, logger)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").Wrap(err)
	}
	dispatchOpts := []mail.DispatcherOption{mail.WithLogger(logger)}
	if metrics != nil {
		dispatchOpts = append(dispatchOpts, mail.WithRecorder(metrics))
	}
	dispatcher, err := mail.NewDispatcher(mailer, mail.NewRenderer(cfg.Mail.AppName), cfg.DispatcherConfig(), dispatchOpts...)
	if err != nil {
		return oops.Code("MAIL_SETUP_FAILED").Wrap(err)
	}
	// Stops the workers when a later setup step fails. Close is idempotent,
	// so the drain on the shutdown path below wins on a clean exit.
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer closeCancel()
		_ = dispatcher.Close(closeCtx) //nolint:errcheck // nothing left to report to
	}()

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	svc, err := buildService(cfg, pool, dispatcher, logger)
	if err != nil {
		return err
	}

	apiOpts := httpapi.Options{Limiter: limiter, Logger: logger}
	if metrics != nil {
		apiOpts.Metrics = metrics
	}
	handler, err := httpapi.NewHandler(svc, httpapi.Config{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		ExposeTokens:   cfg.HTTP.ExposeTokens,
	}, apiOpts)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()
	logger.Info("API server listening", "addr", listener.Addr().String())

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, cfg.HTTP.ShutdownTimeout, logger)
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errChan:
		logger.Error("API server error, shutting down", "error", serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownHTTP(httpServer, cfg.HTTP.ShutdownTimeout, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("mail queue not drained before shutdown", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if serveErr != nil {
		return oops.Code("SERVE_FAILED").Wrap(serveErr)
	}
	return nil
}

// buildService wires the account service over PostgreSQL.
func buildService(cfg *config.Config, pool Pool, notifier account.Notifier, logger *slog.Logger) (*account.Service, error) {
	tx := postgres.NewTransactor(pool)

	tokens, err := account.NewTokens(postgres.NewTokenRepository(pool), tx, nil, nil)
	if err != nil {
		return nil, oops.Code("SERVICE_SETUP_FAILED").Wrap(err)
	}
	sessions, err := account.NewSessions(cfg.SessionConfig(), nil)
	if err != nil {
		return nil, oops.Code("SERVICE_SETUP_FAILED").Wrap(err)
	}

	svc, err := account.NewService(account.Dependencies{
		Users:    postgres.NewUserRepository(pool),
		Tokens:   tokens,
		Sessions: sessions,
		Hasher:   account.NewArgon2idHasher(),
		Tx:       tx,
		Notifier: notifier,
		Logger:   logger,
	}, cfg.ServiceConfig())
	if err != nil {
		return nil, oops.Code("SERVICE_SETUP_FAILED").Wrap(err)
	}
	return svc, nil
}

// buildLimiter returns the Redis limiter when Redis is configured and a
// no-op limiter otherwise. The returned func releases the client.
func buildLimiter(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.Redis.Addr == "" {
		return ratelimit.Nop{}, func() {}, nil
	}

	client := deps.RedisFactory(cfg.Redis)
	closeClient := func() {
		if err := client.Close(); err != nil {
			logger.Debug("error closing redis client", "error", err)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, throttling fails open", "addr", cfg.Redis.Addr, "error", err)
	}

	limiter, err := ratelimit.NewRedisLimiter(client, cfg.LimiterConfig(), logger)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	return limiter, closeClient, nil
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error shutting down API server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
