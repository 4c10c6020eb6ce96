// Package decision is the LLM boundary of the moderator: it maps the
// roster, the chat history, and one incoming chat message to an ordered
// list of messages to publish.
//
// The boundary is deliberately one-shot. A call either yields a parsed
// Decision or fails, with a *FormatError when the model's output does not
// match the schema, and the moderator owns recovery. No retries happen
// here, so a misbehaving model costs exactly one turn.
package decision
