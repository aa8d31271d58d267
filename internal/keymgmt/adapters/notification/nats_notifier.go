package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher is the slice of the message broker client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSNotifier publishes per-user notification events to the message broker on
// subjects of the form "notifications.user.<id>".
type NATSNotifier struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewNATSNotifier(publisher Publisher, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{
		publisher: publisher,
		logger:    logger.With("component", "nats_notifier"),
	}
}

type envelope struct {
	Event     string         `json:"event"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Notify publishes one event for one user. Delivery is best effort; callers
// treat a returned error as a warning, never as a reason to undo the operation
// that triggered the event.
func (n *NATSNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error {
	msg := envelope{
		Event:     event,
		UserID:    userID.String(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling notification event %q: %w", event, err)
	}

	subject := fmt.Sprintf("notifications.user.%s", userID)
	if err := n.publisher.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	n.logger.DebugContext(ctx, "Notification published", "subject", subject, "event", event)
	return nil
}
