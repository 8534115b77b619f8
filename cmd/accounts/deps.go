// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/accounts/internal/account/postgres"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/mail"
	"github.com/holomush/accounts/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: pgxpool.New
	PoolFactory func(ctx context.Context, url string) (Pool, error)

	// RedisFactory creates the rate limiter's Redis client.
	// Default: redis.NewClient
	RedisFactory func(cfg config.RedisConfig) redis.UniversalClient

	// MailerFactory creates the mail transport.
	// Default: SMTP, or a log-only mailer when mail is disabled
	MailerFactory func(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// Pool is the database pool used by serve. *pgxpool.Pool implements it.
type Pool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) applyDefaults() {
	if d.PoolFactory == nil {
		d.PoolFactory = func(ctx context.Context, url string) (Pool, error) {
			return pgxpool.New(ctx, url)
		}
	}
	if d.RedisFactory == nil {
		d.RedisFactory = func(cfg config.RedisConfig) redis.UniversalClient {
			return redis.NewClient(&redis.Options{
				Addr:     cfg.Addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		}
	}
	if d.MailerFactory == nil {
		d.MailerFactory = defaultMailer
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
}

func defaultMailer(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error) {
	if cfg.Mail.Disabled {
		return mail.LogMailer{Logger: logger}, nil
	}
	return mail.NewSMTPMailer(cfg.SMTPConfig())
}
