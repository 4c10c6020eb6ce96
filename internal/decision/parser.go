// ABOUTME: Parses raw model output into a Decision.
// ABOUTME: Tolerates code fences and a bare single message; everything else is a FormatError.

package decision

import (
	"encoding/json"
	"strings"

	"github.com/2389/noa/internal/envelope"
)

// modelAnswer is the expected top-level shape of the model's reply.
type modelAnswer struct {
	Messages []json.RawMessage `json:"messages"`
}

// Parse turns raw model output into a Decision. Accepted shapes:
//
//	{"messages": [<message>, ...]}
//	<message>
//
// where each <message> is a tagged envelope object. Any other shape,
// truncation, or unknown message type yields a *FormatError.
func Parse(raw string) (Decision, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, &FormatError{Reason: "empty model output"}
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		return nil, &FormatError{Reason: "model output is not a JSON object", Err: err}
	}

	// A bare message object has no "messages" key; wrap it, matching the
	// original moderator's tolerance for unwrapped answers.
	if answer.Messages == nil {
		answer.Messages = []json.RawMessage{json.RawMessage(text)}
	}

	decision := make(Decision, 0, len(answer.Messages))
	for _, entry := range answer.Messages {
		msg, err := envelope.Decode(entry)
		if err != nil {
			return nil, &FormatError{Reason: "bad message in decision", Err: err}
		}
		decision = append(decision, msg)
	}
	if len(decision) == 0 {
		return nil, &FormatError{Reason: "decision contains no messages"}
	}
	return decision, nil
}

// stripFences removes a surrounding markdown code fence, which chat models
// add around JSON even when told not to.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
