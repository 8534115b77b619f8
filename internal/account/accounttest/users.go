// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package accounttest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

type userRepo Store

func (r *userRepo) store() *Store { return (*Store)(r) }

func (r *userRepo) Create(ctx context.Context, user *account.User) error {
	s := r.store()
	return s.run(ctx, "Create", func() error {
		if _, ok := s.users[user.ID]; ok {
			return conflict("id")
		}
		if field, taken := s.identityTaken(user); taken {
			return conflict(field)
		}
		s.users[user.ID] = cloneUser(*user)
		return nil
	})
}

func (r *userRepo) GetByID(ctx context.Context, id ulid.ULID) (*account.User, error) {
	s := r.store()
	var found *account.User
	err := s.run(ctx, "GetByID", func() error {
		u, ok := s.users[id]
		if !ok {
			return account.ErrNotFound
		}
		c := cloneUser(u)
		found = &c
		return nil
	})
	return found, err
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	s := r.store()
	var found *account.User
	err := s.run(ctx, "GetByEmail", func() error {
		for _, u := range s.users {
			if strings.EqualFold(u.Email, email) {
				c := cloneUser(u)
				found = &c
				return nil
			}
		}
		return account.ErrNotFound
	})
	return found, err
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*account.User, error) {
	s := r.store()
	var found *account.User
	err := s.run(ctx, "GetByUsername", func() error {
		for _, u := range s.users {
			if u.Username != nil && strings.EqualFold(*u.Username, username) {
				c := cloneUser(u)
				found = &c
				return nil
			}
		}
		return account.ErrNotFound
	})
	return found, err
}

func (r *userRepo) RecordLoginFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.modify(ctx, "RecordLoginFailure", id, func(u *account.User) error {
		u.RecordFailure(now)
		return nil
	})
}

func (r *userRepo) RecordLoginSuccess(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.modify(ctx, "RecordLoginSuccess", id, func(u *account.User) error {
		u.RecordSuccess(now)
		return nil
	})
}

func (r *userRepo) UpdatePassword(ctx context.Context, id ulid.ULID, hash string, now time.Time) error {
	return r.modify(ctx, "UpdatePassword", id, func(u *account.User) error {
		u.PasswordHash = hash
		u.UpdatedAt = now
		return nil
	})
}

func (r *userRepo) UpgradePasswordHash(ctx context.Context, id ulid.ULID, current, upgraded string, now time.Time) error {
	err := r.modify(ctx, "UpgradePasswordHash", id, func(u *account.User) error {
		if u.PasswordHash == current {
			u.PasswordHash = upgraded
			u.UpdatedAt = now
		}
		return nil
	})
	if errors.Is(err, account.ErrNotFound) {
		return nil
	}
	return err
}

func (r *userRepo) Confirm(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.modify(ctx, "Confirm", id, func(u *account.User) error {
		u.Confirm(now)
		return nil
	})
}

func (r *userRepo) UpdateEmail(ctx context.Context, id ulid.ULID, email string, now time.Time) error {
	s := r.store()
	return r.modify(ctx, "UpdateEmail", id, func(u *account.User) error {
		candidate := *u
		candidate.Email = email
		if field, taken := s.identityTaken(&candidate); taken {
			return conflict(field)
		}
		u.Email = email
		u.UpdatedAt = now
		return nil
	})
}

func (r *userRepo) UpdateProfile(ctx context.Context, id ulid.ULID, firstName, lastName string, now time.Time) error {
	return r.modify(ctx, "UpdateProfile", id, func(u *account.User) error {
		u.FirstName = firstName
		u.LastName = lastName
		u.UpdatedAt = now
		return nil
	})
}

// modify applies fn to the stored user under the store lock. Only the fields
// fn touches change.
func (r *userRepo) modify(ctx context.Context, method string, id ulid.ULID, fn func(u *account.User) error) error {
	s := r.store()
	return s.run(ctx, method, func() error {
		u, ok := s.users[id]
		if !ok {
			return account.ErrNotFound
		}
		u = cloneUser(u)
		if err := fn(&u); err != nil {
			return err
		}
		s.users[id] = u
		return nil
	})
}

// conflict mirrors the repository error shape: ErrConflict carrying the
// clashing field.
func conflict(field string) error {
	return oops.Code(account.CodeUserConflict).
		With("field", field).
		Wrapf(account.ErrConflict, "%s already in use", field)
}

// identityTaken reports whether another user holds user's email or
// username, and which.
func (s *Store) identityTaken(user *account.User) (string, bool) {
	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) {
			return "email", true
		}
		if u.Username != nil && user.Username != nil && strings.EqualFold(*u.Username, *user.Username) {
			return "username", true
		}
	}
	return "", false
}

// cloneUser copies user including its pointer fields.
func cloneUser(user account.User) account.User {
	out := user
	if user.Username != nil {
		name := *user.Username
		out.Username = &name
	}
	if user.LockedUntil != nil {
		until := *user.LockedUntil
		out.LockedUntil = &until
	}
	return out
}
