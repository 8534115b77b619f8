// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package accounttest provides in-memory implementations of the account
// repositories and collaborators for tests.
package accounttest

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/accounts/internal/account"
)

type txKey struct{}

type tokenKey struct {
	userID  ulid.ULID
	purpose account.Purpose
}

// Store is an in-memory user and token store with transactional semantics.
// Transactions are serialized; a transaction whose function fails is rolled
// back to the state it started from. Calls made outside a transaction are
// atomic on their own.
type Store struct {
	mu     sync.Mutex
	users  map[ulid.ULID]account.User
	tokens map[tokenKey]account.Token
	fail   map[string]error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:  make(map[ulid.ULID]account.User),
		tokens: make(map[tokenKey]account.Token),
		fail:   make(map[string]error),
	}
}

// Users returns the store as an account.UserRepository.
func (s *Store) Users() account.UserRepository { return (*userRepo)(s) }

// Tokens returns the store as an account.TokenRepository.
func (s *Store) Tokens() account.TokenRepository { return (*tokenRepo)(s) }

// FailNext makes the next call to method (for example "UpdatePassword" or "Take")
// return err instead of running.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

// InTransaction implements account.Transactor.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[ulid.ULID]account.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	tokens := make(map[tokenKey]account.Token, len(s.tokens))
	for k, v := range s.tokens {
		tokens[k] = v
	}

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.users = users
		s.tokens = tokens
		return err
	}
	return nil
}

// TokenCount returns the number of stored tokens, expired ones included.
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// LiveTokens returns the tokens held by userID for purpose. At most one is
// ever stored; the slice form keeps assertions simple.
func (s *Store) LiveTokens(userID ulid.ULID, purpose account.Purpose) []account.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[tokenKey{userID, purpose}]; ok {
		return []account.Token{t}
	}
	return nil
}

// User returns a copy of the stored user.
func (s *Store) User(id ulid.ULID) (account.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// PutUser replaces the stored copy of user, bypassing uniqueness checks.
// Tests use it to seed states the service never writes, such as legacy hashes.
func (s *Store) PutUser(user account.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = cloneUser(user)
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// run executes fn holding the store lock unless ctx already carries this
// store's transaction, which holds it.
func (s *Store) run(ctx context.Context, method string, fn func() error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	if err, ok := s.fail[method]; ok {
		delete(s.fail, method)
		return err
	}
	return fn()
}
