// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level through ctx, so handlers that read the
// context (trace ids) see the record. Oops errors contribute their code and
// context map; attrs are appended as-is.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields, "error", err.Error())

	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			fields = append(fields, "code", code)
		}
		if details := oopsErr.Context(); len(details) > 0 {
			fields = append(fields, "context", details)
		}
	}

	logger.ErrorContext(ctx, msg, append(fields, attrs...)...)
}
