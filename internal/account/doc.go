// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account implements the credential and token lifecycle for user accounts.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a normalized email and validated username
//   - NewToken - creates a Token bound to a user and purpose
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Components
//
//   - PasswordHasher - argon2id hashing with legacy bcrypt verification
//   - Tokens - issue and redeem single-use tokens, at most one live token per
//     (user, purpose)
//   - Sessions - signed, time-bound session credentials
//   - Service - signup, login, email verification, password reset and change,
//     email change
//
// Persistence is abstracted behind UserRepository, TokenRepository and
// Transactor. Email side effects go through Notifier after the state change
// commits; notifier failures never fail the operation.
package account
