// ABOUTME: In-memory fan-out broker for the shared chat space.
// ABOUTME: Each subscription gets a buffered channel; slow subscribers drop rather than block publishers.

package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriptionBufferSize is the per-subscriber payload buffer. A full buffer
// drops payloads for that subscriber instead of blocking the publisher.
const subscriptionBufferSize = 64

// Broker provides in-memory pub/sub over named spaces. It backs the
// single-process deployment and the gRPC broker server.
type Broker struct {
	mu     sync.RWMutex
	spaces map[string]map[string]*Subscription // space -> subID -> subscription
	closed bool
	logger *slog.Logger
}

// NewBroker creates a broker. Pass nil logger for default.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		spaces: make(map[string]map[string]*Subscription),
		logger: logger.With("component", "broker"),
	}
}

// Attach joins a participant to a space and returns its Channel. The
// subscription is cleaned up when ctx is cancelled or Close is called.
func (b *Broker) Attach(ctx context.Context, space, participant string) *Subscription {
	sub := &Subscription{
		id:          uuid.New().String(),
		space:       space,
		participant: participant,
		broker:      b,
		payloads:    make(chan []byte, subscriptionBufferSize),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	if _, ok := b.spaces[space]; !ok {
		b.spaces[space] = make(map[string]*Subscription)
	}
	b.spaces[space][sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("participant attached",
		"space", space,
		"participant", participant,
		"sub_id", sub.id)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return sub
}

// publish fans a payload out to every subscription on the space except the
// publishing one. Non-blocking: payloads are dropped for subscribers whose
// buffers are full.
func (b *Broker) publish(space, fromSubID string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}

	subs := b.spaces[space]
	targets := make([]*Subscription, 0, len(subs))
	for id, sub := range subs {
		if id == fromSubID {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.payloads <- payload:
		default:
			b.logger.Warn("dropped payload for slow subscriber",
				"space", space,
				"participant", sub.participant)
		}
	}
	return nil
}

// detach removes a subscription from the space. The payload channel stays
// open so in-flight publishes cannot send on a closed channel; the done
// signal unblocks any pending Receive.
func (b *Broker) detach(space, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.spaces[space]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(sub.done)
	if len(subs) == 0 {
		delete(b.spaces, space)
	}

	b.logger.Debug("participant detached",
		"space", space,
		"participant", sub.participant)
}

// Close shuts the broker down and detaches every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for space, subs := range b.spaces {
		for id, sub := range subs {
			close(sub.done)
			delete(subs, id)
		}
		delete(b.spaces, space)
	}
	b.logger.Debug("broker closed")
}

// Subscription is one participant's attachment to a broker space.
type Subscription struct {
	id          string
	space       string
	participant string
	broker      *Broker
	payloads    chan []byte
	done        chan struct{}

	closeOnce sync.Once
}

// Publish implements Channel.
func (s *Subscription) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	return s.broker.publish(s.space, s.id, payload)
}

// Receive implements Channel. Buffered payloads are drained before the
// close signal is honored, so nothing delivered pre-close is lost.
func (s *Subscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.payloads:
		return payload, nil
	default:
	}

	select {
	case payload := <-s.payloads:
		return payload, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Channel.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.detach(s.space, s.id)
	})
	return nil
}
