// Package moderator implements the turn-taking protocol at the heart of
// the assistant network.
//
// # Protocol
//
// The moderator is a reactive handler over the shared space. It ignores
// everything except ChatMessages authored by others. Each one is appended
// to the episode history and fed, together with the assistant roster, to
// the decision function; the resulting messages are published strictly in
// order, each appended to history before its publish.
//
// An episode runs from the first user message until a RequestToSpeak
// targeting the user proxy is published. That publish resets history
// immediately and suppresses any trailing decision entries, so nothing can
// leak across episodes.
//
// # Liveness
//
// When the decision function fails (unparseable model output, a dead
// endpoint, or, when validation is on, a decision naming an unknown agent)
// the moderator publishes exactly two messages: a readable failure
// report and a hand-back to the user proxy. The user never waits on a hung
// episode and never sees a stack trace.
package moderator
