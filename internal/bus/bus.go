// Package bus is the message-bus boundary: pub/sub channels plus the bounded
// k-line list per (instrument, period) key.
package bus

import "context"

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live set of channel subscriptions. Messages is closed
// when the subscription is closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is the gateway's view of the message bus.
type Bus interface {
	// Ping verifies reachability; startup aborts when it fails.
	Ping(ctx context.Context) error

	Publish(ctx context.Context, channel string, payload []byte) error
	PublishString(ctx context.Context, channel, message string) error

	// PushBounded prepends payload to the list at key and trims it to the
	// given length, atomically from the reader's point of view.
	PushBounded(ctx context.Context, key string, payload []byte, limit int64) error
	// Range returns the list at key, most recent first.
	Range(ctx context.Context, key string) ([][]byte, error)

	// Set stores a plain key/value pair (configuration bootstrap keys).
	Set(ctx context.Context, key, value string) error

	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}
