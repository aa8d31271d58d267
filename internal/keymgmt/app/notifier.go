package app

import (
	"context"

	"github.com/google/uuid"
)

// Notifier delivers fire-and-forget messages to a user. Delivery failures are
// logged by callers and never fail the operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error
}

// NopNotifier discards notifications; useful in tests and when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error {
	return nil
}
