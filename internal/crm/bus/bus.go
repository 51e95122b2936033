// Package bus abstracts the external message bus: named channels carrying
// opaque payloads with at-least-once delivery. The concrete transport is a
// length-prefixed TCP framing; tests use the in-memory implementation.
package bus

import "context"

// Consumer receives messages from one channel.
type Consumer interface {
	// Receive blocks until the next message arrives or ctx is done.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Publisher sends messages to named channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Channel names consumed and produced by the CRM processes.
const (
	// ChannelEmailSent mirrors the outbound email queue.
	ChannelEmailSent = "email.sent"
	// ChannelEmailInbound carries reply and unsubscribe notifications.
	ChannelEmailInbound = "email.inbound"
	// ChannelClientsUpsert carries client create-or-update payloads.
	ChannelClientsUpsert = "clients.upsert"
	// ChannelTasksNotify carries task state notifications.
	ChannelTasksNotify = "tasks.notify"
	// ChannelEmailOutbox receives send-email requests published by the app.
	ChannelEmailOutbox = "email.outbox"
)
