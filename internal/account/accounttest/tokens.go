// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accounttest

import (
	"context"

	"github.com/holomush/accounts/internal/account"
)

type tokenRepo Store

func (r *tokenRepo) store() *Store { return (*Store)(r) }

func (r *tokenRepo) Replace(ctx context.Context, token *account.Token) error {
	s := r.store()
	return s.run(ctx, "Replace", func() error {
		key := tokenKey{token.UserID, token.Purpose}
		for k, t := range s.tokens {
			if k != key && t.Purpose == token.Purpose && t.TokenHash == token.TokenHash {
				return account.ErrTokenCollision
			}
		}
		s.tokens[key] = *token
		return nil
	})
}

func (r *tokenRepo) Take(ctx context.Context, purpose account.Purpose, tokenHash string) (*account.Token, error) {
	s := r.store()
	var taken *account.Token
	err := s.run(ctx, "Take", func() error {
		for k, t := range s.tokens {
			if t.Purpose == purpose && t.TokenHash == tokenHash {
				delete(s.tokens, k)
				taken = &t
				return nil
			}
		}
		return account.ErrNotFound
	})
	return taken, err
}
