// ABOUTME: LLM-backed Decider: one chat-completion call per inbound message, parsed into a Decision.
// ABOUTME: No internal retry; malformed output surfaces as FormatError for the moderator's fallback.

package decision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/llm"
	"github.com/2389/noa/internal/roster"
)

// LLMDecider asks a chat-completion model who should speak next.
type LLMDecider struct {
	client llm.Client
	logger *slog.Logger
}

// NewLLMDecider creates a decider over the given model client. Pass nil
// logger for default.
func NewLLMDecider(client llm.Client, logger *slog.Logger) *LLMDecider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMDecider{
		client: client,
		logger: logger.With("component", "decider"),
	}
}

// Decide implements Decider. Model transport failures are returned as plain
// errors; unparseable output is a *FormatError. Either way the caller makes
// no second attempt.
func (d *LLMDecider) Decide(ctx context.Context, r roster.Roster, history []envelope.Message, incoming envelope.ChatMessage) (Decision, error) {
	turns := []llm.ChatTurn{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt(r.Describe(), history, incoming)},
	}

	reply, err := d.client.Chat(ctx, turns)
	if err != nil {
		return nil, fmt.Errorf("decision call: %w", err)
	}

	decision, err := Parse(reply)
	if err != nil {
		d.logger.Error("model output did not match the decision schema",
			"error", err,
			"output_bytes", len(reply))
		return nil, err
	}

	d.logger.Debug("decision parsed", "messages", len(decision))
	return decision, nil
}
