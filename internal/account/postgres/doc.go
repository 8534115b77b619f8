// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides PostgreSQL implementations of the account
// repositories and transactor.
//
// Repositories take their connection from the context when it carries a
// transaction started by Transactor, and from the pool otherwise.
package postgres
