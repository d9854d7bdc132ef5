// Package publisher defines how run notifications leave the process.
package publisher

import "context"

// Publisher sends one JSON-encodable payload to a topic and returns the
// broker-assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Noop discards every message.
type Noop struct{}

var _ Publisher = Noop{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
