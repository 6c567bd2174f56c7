// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by SiteForge.
const (
	SubjectBuildStatus  = "builds.status" // build-status transitions
	SubjectBuildOutput  = "builds.output" // streaming dev-server/build output lines
	SubjectEditApplied  = "edits.applied" // AI edit applied to a file
	SubjectEditReverted = "edits.reverted"
	SubjectSiteDeleted  = "sites.deleted"
)
