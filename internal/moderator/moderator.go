// ABOUTME: The moderator: arbitrates speaking rights on the shared space and owns the chat history.
// ABOUTME: One reactive handler per inbound ChatMessage; control always returns to the user proxy.

package moderator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/decision"
	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/roster"
)

// Recorder persists chat traffic to an episode ledger. Implemented by
// ledger.Store; optional.
type Recorder interface {
	Record(ctx context.Context, episodeID string, seq int, m envelope.Message) error
}

// Config wires a Moderator.
type Config struct {
	// ID is the moderator's participant id on the space.
	ID string
	// UserProxyID is the reserved id control is handed back to.
	UserProxyID string
	// Channel is the shared space attachment.
	Channel channel.Channel
	// Roster rebuilds the assistant roster at episode start.
	Roster roster.Source
	// Decider is the LLM-backed decision function.
	Decider decision.Decider
	// Recorder receives every history append. Optional.
	Recorder Recorder
	// ValidateTargets rejects decisions addressing agents missing from the
	// roster instead of publishing into the void.
	ValidateTargets bool
	// Logger may be nil for default.
	Logger *slog.Logger
}

// Moderator owns the chat history of the active episode and converts each
// inbound ChatMessage into zero or more published messages via the decision
// function. All state is confined to the single Run goroutine.
type Moderator struct {
	id          string
	userProxyID string
	ch          channel.Channel
	source      roster.Source
	decider     decision.Decider
	recorder    Recorder
	validate    bool
	logger      *slog.Logger

	history   []envelope.Message
	roster    roster.Roster
	episodeID string
	seq       int
}

// New creates a Moderator. ID and UserProxyID default to the reserved
// envelope identifiers.
func New(cfg Config) *Moderator {
	if cfg.ID == "" {
		cfg.ID = envelope.DefaultModeratorID
	}
	if cfg.UserProxyID == "" {
		cfg.UserProxyID = envelope.DefaultUserProxyID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Moderator{
		id:          cfg.ID,
		userProxyID: cfg.UserProxyID,
		ch:          cfg.Channel,
		source:      cfg.Roster,
		decider:     cfg.Decider,
		recorder:    cfg.Recorder,
		validate:    cfg.ValidateTargets,
		logger:      logger.With("component", "moderator"),
	}
}

// History returns the active episode's history. Callers must not retain the
// slice across Handle calls.
func (m *Moderator) History() []envelope.Message {
	return m.history
}

// Run drives the receive loop until ctx is cancelled or the channel
// closes. Inbound messages are handled one at a time in arrival order,
// which is what keeps history appends from interleaving.
func (m *Moderator) Run(ctx context.Context) error {
	m.logger.Info("moderator ready", "id", m.id)
	for {
		payload, err := m.ch.Receive(ctx)
		if errors.Is(err, channel.ErrClosed) || errors.Is(err, context.Canceled) {
			m.logger.Info("receive loop stopped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		msg, err := envelope.Decode(payload)
		if err != nil {
			// Malformed bytes never touch history.
			m.logger.Warn("dropping undecodable message", "error", err)
			continue
		}

		if err := m.Handle(ctx, msg); err != nil {
			return err
		}
	}
}

// Handle processes one decoded inbound message. Only ChatMessages from
// other participants advance the conversation; everything else is ignored
// without state change.
func (m *Moderator) Handle(ctx context.Context, msg envelope.Message) error {
	chat, ok := msg.(envelope.ChatMessage)
	if !ok {
		m.logger.Debug("ignoring non-chat message", "type", msg.Type(), "author", msg.From())
		return nil
	}
	if chat.Author == m.id {
		return nil
	}

	if len(m.history) == 0 {
		m.startEpisode(ctx)
	}

	m.logger.Info("received message", "author", chat.Author, "message", chat.Message)
	m.append(ctx, chat)

	dec, err := m.decider.Decide(ctx, m.roster, m.history, chat)
	if err != nil {
		return m.recover(ctx, err)
	}

	return m.dispatch(ctx, dec)
}

// dispatch publishes the decision's messages in order, appending each to
// history first. Publishing stops at a terminal hand-back to the user
// proxy: nothing may leak past the episode boundary even if the decision
// erroneously contains trailing entries.
func (m *Moderator) dispatch(ctx context.Context, dec decision.Decision) error {
	for _, entry := range dec {
		if rts, ok := entry.(envelope.RequestToSpeak); ok {
			if m.validate && rts.Target != m.userProxyID && !m.roster.Has(rts.Target) {
				return m.recover(ctx, &decision.FormatError{
					Reason: fmt.Sprintf("the decision addressed unknown agent %q", rts.Target),
				})
			}
		}

		m.append(ctx, entry)
		if err := m.publish(ctx, entry); err != nil {
			return err
		}

		if rts, ok := entry.(envelope.RequestToSpeak); ok && rts.Target == m.userProxyID {
			m.endEpisode()
			return nil
		}
	}
	return nil
}

// recover is the fallback path: report the failure in one readable chat
// message, hand control back to the user, and end the episode. The net
// effect is always exactly two publishes and an empty history, so a
// misbehaving model can never deadlock the conversation.
func (m *Moderator) recover(ctx context.Context, cause error) error {
	m.logger.Error("decision failed, returning control to user", "error", cause)

	apology := envelope.ChatMessage{
		Author:  m.id,
		Message: fmt.Sprintf("Moderator failed: %s. Handing the conversation back to you.", summarize(cause)),
	}
	m.append(ctx, apology)
	if err := m.publish(ctx, apology); err != nil {
		return err
	}

	handBack := envelope.RequestToSpeak{Author: m.id, Target: m.userProxyID}
	m.append(ctx, handBack)
	if err := m.publish(ctx, handBack); err != nil {
		return err
	}

	m.endEpisode()
	return nil
}

// startEpisode begins a new conversation episode: fresh id and a roster
// rebuild. A failed rebuild degrades to an empty roster rather than
// blocking the turn.
func (m *Moderator) startEpisode(ctx context.Context) {
	m.episodeID = uuid.New().String()
	m.seq = 0

	r, err := m.source.Discover(ctx)
	if err != nil {
		m.logger.Error("roster discovery failed, continuing without assistants", "error", err)
		r = roster.Roster{}
	}
	m.roster = r
	m.logger.Info("episode started", "episode_id", m.episodeID, "assistants", len(r))
}

// endEpisode clears history so the next inbound message starts fresh.
func (m *Moderator) endEpisode() {
	m.logger.Info("episode ended", "episode_id", m.episodeID, "turns", m.seq)
	m.history = nil
}

// append records a message into history and, when configured, the ledger.
// Ledger failures are logged and never affect the protocol.
func (m *Moderator) append(ctx context.Context, msg envelope.Message) {
	m.history = append(m.history, msg)
	if m.recorder != nil {
		if err := m.recorder.Record(ctx, m.episodeID, m.seq, msg); err != nil {
			m.logger.Warn("ledger record failed", "error", err)
		}
	}
	m.seq++
}

func (m *Moderator) publish(ctx context.Context, msg envelope.Message) error {
	payload, err := envelope.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	if err := m.ch.Publish(ctx, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	m.logger.Info("published", "type", msg.Type(), "message", msg)
	return nil
}

// summarize renders a decision failure for the user without leaking raw
// internals. FormatError reasons are written for humans; anything else
// collapses to a generic service failure.
func summarize(err error) string {
	var formatErr *decision.FormatError
	if errors.As(err, &formatErr) {
		return formatErr.Reason
	}
	return "the decision service did not respond"
}
