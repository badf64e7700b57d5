// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package email

import (
	"context"
	"log/slog"
)

// LogDispatcher writes mail messages to the structured log instead of a
// broker. Used in development and as the fallback when AMQP_URL is unset.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a [LogDispatcher].
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// SendVerification implements [Dispatcher].
func (dispatcher *LogDispatcher) SendVerification(ctx context.Context, recipient, token string) error {
	dispatcher.logger.InfoContext(ctx, "email_dispatch_skipped",
		slog.String("kind", string(KindVerification)),
		slog.String("recipient", recipient),
	)
	return nil
}

// SendPasswordReset implements [Dispatcher].
func (dispatcher *LogDispatcher) SendPasswordReset(ctx context.Context, recipient, token string) error {
	dispatcher.logger.InfoContext(ctx, "email_dispatch_skipped",
		slog.String("kind", string(KindPasswordReset)),
		slog.String("recipient", recipient),
	)
	return nil
}
