// Package notify publishes domain events emitted by the API: mod lifecycle
// changes and co-authorship grant transitions. Delivery is best-effort; a
// failed publish never fails the request that produced it.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event types emitted by the API handlers.
const (
	EventModCreated    = "mod.created"
	EventModUpdated    = "mod.updated"
	EventModPublished  = "mod.published"
	EventGrantIssued   = "grant.issued"
	EventGrantAccepted = "grant.accepted"
	EventGrantRejected = "grant.rejected"
	EventGrantRevoked  = "grant.revoked"
)

// Event is one domain event. ModID is set for every type; UserID identifies
// the grant target for grant events and the uploader otherwise.
type Event struct {
	Type       string    `json:"type"`
	ModID      int64     `json:"modId"`
	ModName    string    `json:"modName,omitempty"`
	UserID     int64     `json:"userId,omitempty"`
	Username   string    `json:"username,omitempty"`
	Version    string    `json:"version,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier delivers events to interested consumers.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, Event) error { return nil }
func (NoopNotifier) Close() error                         { return nil }

// LogNotifier writes events to the structured log. It is the default sink for
// single-instance deployments without a broker.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a notifier backed by the provided logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(ctx context.Context, event Event) error {
	n.logger.InfoContext(ctx, "domain event",
		"type", event.Type,
		"modId", event.ModID,
		"modName", event.ModName,
		"userId", event.UserID,
		"version", event.Version,
	)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
