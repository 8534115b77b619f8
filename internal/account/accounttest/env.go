// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accounttest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/account"
)

// Epoch is the starting time of every Env clock.
var Epoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// SessionSecret is the signing secret used by Env.
var SessionSecret = []byte("accounttest-session-secret-0123456789")

// Env wires an account.Service to in-memory collaborators.
type Env struct {
	Service  *account.Service
	Store    *Store
	Clock    *Clock
	Notifier *Notifier
	Tokens   *account.Tokens
	Sessions *account.Sessions
}

// Option customizes NewEnv.
type Option func(*envOptions)

type envOptions struct {
	config account.ServiceConfig
	hasher account.PasswordHasher
}

// WithConfig overrides the service configuration.
func WithConfig(cfg account.ServiceConfig) Option {
	return func(o *envOptions) { o.config = cfg }
}

// WithHasher overrides the default fast Hasher.
func WithHasher(h account.PasswordHasher) Option {
	return func(o *envOptions) { o.hasher = h }
}

// NewEnv builds an Env with a fake clock at Epoch.
func NewEnv(tb testing.TB, opts ...Option) *Env {
	tb.Helper()

	o := envOptions{config: account.DefaultServiceConfig(), hasher: Hasher{}}
	for _, opt := range opts {
		opt(&o)
	}

	store := NewStore()
	clock := NewClock(Epoch)
	notifier := NewNotifier()

	tokens, err := account.NewTokens(store.Tokens(), store, clock, nil)
	require.NoError(tb, err)

	sessions, err := account.NewSessions(account.SessionConfig{
		Secret: SessionSecret,
		Issuer: "accounttest",
		TTL:    time.Hour,
	}, clock)
	require.NoError(tb, err)

	svc, err := account.NewService(account.Dependencies{
		Users:    store.Users(),
		Tokens:   tokens,
		Sessions: sessions,
		Hasher:   o.hasher,
		Tx:       store,
		Notifier: notifier,
		Clock:    clock,
	}, o.config)
	require.NoError(tb, err)

	return &Env{
		Service:  svc,
		Store:    store,
		Clock:    clock,
		Notifier: notifier,
		Tokens:   tokens,
		Sessions: sessions,
	}
}
