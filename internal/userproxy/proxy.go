// ABOUTME: User proxy core: represents the human in the shared space.
// ABOUTME: Publishes questions and collects replies until the moderator hands back the turn.

package userproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/dedupe"
	"github.com/2389/noa/internal/envelope"
)

// ErrBusy is returned when an ask is already in flight.
var ErrBusy = errors.New("a question is already in flight")

// TranscriptLine is one console-visible message.
type TranscriptLine struct {
	Author string
	Text   string
	At     time.Time
}

type pendingAsk struct {
	done    chan struct{}
	replies []envelope.ChatMessage
}

// Proxy bridges a human to the shared space. Run processes incoming
// traffic; Ask publishes a question and blocks until the moderator routes
// the turn back to the proxy.
type Proxy struct {
	id     string
	ch     channel.Channel
	seen   *dedupe.Cache
	logger *slog.Logger
	echo   bool

	mu         sync.Mutex
	pending    *pendingAsk
	transcript []TranscriptLine
}

// Config for the proxy. ID defaults to envelope.DefaultUserProxyID; Echo
// prints incoming messages to the console.
type Config struct {
	ID      string
	Channel channel.Channel
	Echo    bool
	Logger  *slog.Logger
}

func New(cfg Config) (*Proxy, error) {
	if cfg.Channel == nil {
		return nil, errors.New("userproxy: channel is required")
	}
	if cfg.ID == "" {
		cfg.ID = envelope.DefaultUserProxyID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Proxy{
		id:     cfg.ID,
		ch:     cfg.Channel,
		seen:   dedupe.New(5*time.Minute, 1024),
		logger: cfg.Logger.With("component", "userproxy"),
		echo:   cfg.Echo,
	}, nil
}

// ID returns the proxy's participant id.
func (p *Proxy) ID() string { return p.id }

// Run consumes the channel until ctx is canceled or the channel closes.
func (p *Proxy) Run(ctx context.Context) error {
	defer p.seen.Close()

	for {
		raw, err := p.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("userproxy receive: %w", err)
		}
		if p.seen.Seen(raw) {
			p.logger.Debug("dropping redelivered payload")
			continue
		}

		msg, err := envelope.Decode(raw)
		if err != nil {
			p.logger.Warn("dropping malformed payload", "error", err)
			continue
		}
		p.handle(msg)
	}
}

func (p *Proxy) handle(msg envelope.Message) {
	switch m := msg.(type) {
	case envelope.ChatMessage:
		if m.Author == p.id {
			return
		}
		p.record(m.Author, m.Message)

		p.mu.Lock()
		if p.pending != nil {
			p.pending.replies = append(p.pending.replies, m)
		}
		p.mu.Unlock()

	case envelope.RequestToSpeak:
		if m.Target != p.id {
			return
		}
		p.mu.Lock()
		if p.pending != nil && p.pending.done != nil {
			close(p.pending.done)
			p.pending.done = nil
		}
		p.mu.Unlock()
	}
}

// Ask publishes a question and blocks until the turn comes back or ctx
// expires. It returns the chat messages received in between. Only one ask
// may be in flight; concurrent calls get ErrBusy.
func (p *Proxy) Ask(ctx context.Context, question string) ([]envelope.ChatMessage, error) {
	ask := &pendingAsk{done: make(chan struct{})}

	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.pending = ask
	done := ask.done
	p.mu.Unlock()

	// An identical payload from a past exchange is a fresh message, not a
	// redelivery; the hand-back grant in particular rarely varies.
	p.seen.Reset()

	defer func() {
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
	}()

	p.record(p.id, question)
	raw, err := envelope.Encode(envelope.ChatMessage{Author: p.id, Message: question})
	if err != nil {
		return nil, fmt.Errorf("encoding question: %w", err)
	}
	if err := p.ch.Publish(ctx, raw); err != nil {
		return nil, fmt.Errorf("publishing question: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	replies := make([]envelope.ChatMessage, len(ask.replies))
	copy(replies, ask.replies)
	p.mu.Unlock()
	return replies, nil
}

// Transcript returns a snapshot of everything said so far.
func (p *Proxy) Transcript() []TranscriptLine {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TranscriptLine, len(p.transcript))
	copy(out, p.transcript)
	return out
}

func (p *Proxy) record(author, text string) {
	p.mu.Lock()
	p.transcript = append(p.transcript, TranscriptLine{Author: author, Text: text, At: time.Now()})
	p.mu.Unlock()

	if p.echo {
		color.New(color.FgCyan, color.Bold).Printf("%s: ", DisplayName(author))
		fmt.Println(text)
	}
}

// DisplayName turns a participant id into a console-friendly name:
// "noa-web-surfer" becomes "Web Surfer".
func DisplayName(id string) string {
	name := strings.TrimPrefix(id, "noa-")
	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
