// ABOUTME: The decision boundary: maps (roster, history, incoming message) to an ordered message list.
// ABOUTME: Defines the Decider contract, the FormatError failure mode, and the scripted test seam.

package decision

import (
	"context"
	"fmt"

	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/roster"
)

// Decision is the ordered list of messages the moderator should publish in
// response to one inbound chat message. A well-formed decision is zero or
// more moderator ChatMessages optionally followed by one RequestToSpeak.
type Decision []envelope.Message

// FormatError reports model output that could not be parsed into the
// decision schema. The moderator recovers by apologizing and handing
// control back to the user; the call is never retried.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision format: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decision format: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Decider produces a Decision for one inbound message. Exactly one attempt
// is made per message; the implementation must not retry internally.
type Decider interface {
	Decide(ctx context.Context, r roster.Roster, history []envelope.Message, incoming envelope.ChatMessage) (Decision, error)
}

// Scripted replays queued outcomes in order. Test seam for the moderator.
type Scripted struct {
	Outcomes []ScriptedOutcome
	Calls    int
}

// ScriptedOutcome is one canned Decide result.
type ScriptedOutcome struct {
	Decision Decision
	Err      error
}

// Decide implements Decider.
func (s *Scripted) Decide(ctx context.Context, _ roster.Roster, _ []envelope.Message, _ envelope.ChatMessage) (Decision, error) {
	if s.Calls >= len(s.Outcomes) {
		return nil, &FormatError{Reason: "scripted decider exhausted"}
	}
	out := s.Outcomes[s.Calls]
	s.Calls++
	return out.Decision, out.Err
}
