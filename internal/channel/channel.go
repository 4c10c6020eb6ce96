// ABOUTME: Channel abstraction for the shared chat space: publish bytes, receive bytes.
// ABOUTME: Implemented by in-memory broker subscriptions and by gRPC sessions against noa-broker.

package channel

import (
	"context"
	"errors"
)

// ErrClosed indicates the channel was closed and no further publishes or
// receives are possible.
var ErrClosed = errors.New("channel closed")

// Channel is one participant's handle on the shared space. Payloads are
// opaque bytes; the envelope package owns their meaning. A participant never
// receives its own publishes. Per-publisher ordering is preserved to all
// receivers; there is no total order across publishers.
type Channel interface {
	// Publish sends a payload to every other participant on the space.
	Publish(ctx context.Context, payload []byte) error

	// Receive blocks until the next payload arrives, ctx is cancelled, or
	// the channel closes (ErrClosed).
	Receive(ctx context.Context) ([]byte, error)

	// Close detaches from the space.
	Close() error
}
