// ABOUTME: Tests for the moderator protocol: episode termination, failure recovery, dispatch order.
// ABOUTME: Uses the in-memory broker, scripted deciders, and static rosters.

package moderator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/decision"
	"github.com/2389/noa/internal/envelope"
	"github.com/2389/noa/internal/roster"
)

// staticSource serves a fixed roster and counts rebuilds.
type staticSource struct {
	roster roster.Roster
	calls  int
	err    error
}

func (s *staticSource) Discover(context.Context) (roster.Roster, error) {
	s.calls++
	return s.roster, s.err
}

// memoryRecorder captures ledger records in order.
type memoryRecorder struct {
	records []recordedEntry
}

type recordedEntry struct {
	episodeID string
	seq       int
	msg       envelope.Message
}

func (r *memoryRecorder) Record(_ context.Context, episodeID string, seq int, m envelope.Message) error {
	r.records = append(r.records, recordedEntry{episodeID, seq, m})
	return nil
}

type fixture struct {
	mod      *Moderator
	observer channel.Channel
}

func newFixture(t *testing.T, decider decision.Decider, cfg Config) *fixture {
	t.Helper()

	broker := channel.NewBroker(nil)
	t.Cleanup(broker.Close)

	cfg.Channel = broker.Attach(t.Context(), "chat", envelope.DefaultModeratorID)
	cfg.Decider = decider
	if cfg.Roster == nil {
		cfg.Roster = &staticSource{roster: roster.Roster{
			"noa-weather-agent":  "Answers queries about the weather",
			"noa-math-assistant": "Evaluates mathematical expressions",
		}}
	}

	return &fixture{
		mod:      New(cfg),
		observer: broker.Attach(t.Context(), "chat", "observer"),
	}
}

// published decodes the next n messages seen on the space.
func (f *fixture) published(t *testing.T, n int) []envelope.Message {
	t.Helper()
	out := make([]envelope.Message, 0, n)
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		payload, err := f.observer.Receive(ctx)
		cancel()
		require.NoError(t, err, "waiting for publish %d of %d", i+1, n)
		msg, err := envelope.Decode(payload)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// assertNoMorePublishes verifies the space stays quiet.
func (f *fixture) assertNoMorePublishes(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	payload, err := f.observer.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "unexpected extra publish: %s", payload)
}

func userSays(text string) envelope.ChatMessage {
	return envelope.ChatMessage{Author: envelope.DefaultUserProxyID, Message: text}
}

func TestHandle_RoutesQueryToSpecialist(t *testing.T) {
	rts := envelope.RequestToSpeak{
		Author:  envelope.DefaultModeratorID,
		Target:  "noa-weather-agent",
		Message: "What is the weather in New York?",
	}
	f := newFixture(t, &decision.Scripted{
		Outcomes: []decision.ScriptedOutcome{{Decision: decision.Decision{rts}}},
	}, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("What is the weather in New York?")))

	got := f.published(t, 1)
	assert.Equal(t, rts, got[0])

	// Episode is still open: inbound message plus the grant.
	assert.Len(t, f.mod.History(), 2)
}

func TestHandle_EpisodeTerminatesOnUserProxyHandBack(t *testing.T) {
	answer := envelope.ChatMessage{Author: envelope.DefaultModeratorID, Message: "It is sunny and 95F in New York"}
	handBack := envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID}

	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{envelope.RequestToSpeak{
			Author:  envelope.DefaultModeratorID,
			Target:  "noa-weather-agent",
			Message: "What is the weather in New York?",
		}}},
		{Decision: decision.Decision{answer, handBack}},
	}}, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("What is the weather in New York?")))
	f.published(t, 1)

	require.NoError(t, f.mod.Handle(t.Context(), envelope.ChatMessage{
		Author:  "noa-weather-agent",
		Message: "It is sunny and 95F",
	}))

	got := f.published(t, 2)
	assert.Equal(t, answer, got[0])
	assert.Equal(t, handBack, got[1])

	assert.Empty(t, f.mod.History(), "history must reset when control returns to the user")
}

func TestHandle_FailureRecoveryPublishesExactlyTwo(t *testing.T) {
	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Err: &decision.FormatError{Reason: "model output is not a JSON object"}},
	}}, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("hello?")))

	got := f.published(t, 2)

	apology, ok := got[0].(envelope.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, envelope.DefaultModeratorID, apology.Author)
	assert.Contains(t, apology.Message, "Moderator failed")

	rts, ok := got[1].(envelope.RequestToSpeak)
	require.True(t, ok)
	assert.Equal(t, envelope.DefaultUserProxyID, rts.Target)
	assert.Empty(t, rts.Message)

	f.assertNoMorePublishes(t)
	assert.Empty(t, f.mod.History())
}

func TestHandle_TransportFailureAlsoRecovers(t *testing.T) {
	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Err: errors.New("connection refused")},
	}}, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("hi")))

	got := f.published(t, 2)
	apology := got[0].(envelope.ChatMessage)
	assert.NotContains(t, apology.Message, "connection refused",
		"raw transport internals must not reach the user")
	assert.Empty(t, f.mod.History())
}

func TestHandle_NothingPublishedAfterTerminalGrant(t *testing.T) {
	handBack := envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID}
	stray := envelope.ChatMessage{Author: envelope.DefaultModeratorID, Message: "this must never be seen"}

	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{
			envelope.ChatMessage{Author: envelope.DefaultModeratorID, Message: "answer"},
			handBack,
			stray,
		}},
	}}, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("question")))

	got := f.published(t, 2)
	assert.Equal(t, "answer", got[0].(envelope.ChatMessage).Message)
	assert.Equal(t, handBack, got[1])

	f.assertNoMorePublishes(t)
	assert.Empty(t, f.mod.History())
}

func TestHandle_IgnoresRequestToSpeakAndSelfAuthored(t *testing.T) {
	scripted := &decision.Scripted{}
	f := newFixture(t, scripted, Config{})

	require.NoError(t, f.mod.Handle(t.Context(), envelope.RequestToSpeak{
		Author: "noa-weather-agent",
		Target: envelope.DefaultModeratorID,
	}))
	require.NoError(t, f.mod.Handle(t.Context(), envelope.ChatMessage{
		Author:  envelope.DefaultModeratorID,
		Message: "echo of my own publish",
	}))

	assert.Zero(t, scripted.Calls, "ignored messages must not invoke the decision function")
	assert.Empty(t, f.mod.History())
	f.assertNoMorePublishes(t)
}

func TestHandle_ValidatesDecisionTargets(t *testing.T) {
	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{envelope.RequestToSpeak{
			Author:  envelope.DefaultModeratorID,
			Target:  "noa-hallucinated-agent",
			Message: "are you there?",
		}}},
	}}, Config{ValidateTargets: true})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("question")))

	got := f.published(t, 2)
	apology := got[0].(envelope.ChatMessage)
	assert.Contains(t, apology.Message, "noa-hallucinated-agent")
	assert.Equal(t, envelope.DefaultUserProxyID, got[1].(envelope.RequestToSpeak).Target)
	assert.Empty(t, f.mod.History())
}

func TestHandle_UnvalidatedTargetsPassThrough(t *testing.T) {
	rts := envelope.RequestToSpeak{
		Author:  envelope.DefaultModeratorID,
		Target:  "noa-hallucinated-agent",
		Message: "are you there?",
	}
	f := newFixture(t, &decision.Scripted{
		Outcomes: []decision.ScriptedOutcome{{Decision: decision.Decision{rts}}},
	}, Config{ValidateTargets: false})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("question")))
	assert.Equal(t, rts, f.published(t, 1)[0])
}

func TestHandle_RosterRebuiltPerEpisode(t *testing.T) {
	source := &staticSource{roster: roster.Roster{"noa-weather-agent": "weather"}}
	handBack := decision.Decision{envelope.RequestToSpeak{
		Author: envelope.DefaultModeratorID,
		Target: envelope.DefaultUserProxyID,
	}}
	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: handBack},
		{Decision: handBack},
	}}, Config{Roster: source})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("first episode")))
	require.NoError(t, f.mod.Handle(t.Context(), userSays("second episode")))

	assert.Equal(t, 2, source.calls)
}

func TestHandle_RosterFailureDegradesToEmpty(t *testing.T) {
	source := &staticSource{err: errors.New("no such directory")}
	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{
			envelope.ChatMessage{Author: envelope.DefaultModeratorID, Message: "I have no assistants available"},
			envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID},
		}},
	}}, Config{Roster: source})

	require.NoError(t, f.mod.Handle(t.Context(), userSays("anyone home?")))
	f.published(t, 2)
	assert.Empty(t, f.mod.History())
}

func TestHandle_RecordsLedgerInOrder(t *testing.T) {
	rec := &memoryRecorder{}
	answer := envelope.ChatMessage{Author: envelope.DefaultModeratorID, Message: "hello"}
	handBack := envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID}

	f := newFixture(t, &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{answer, handBack}},
	}}, Config{Recorder: rec})

	inbound := userSays("hi")
	require.NoError(t, f.mod.Handle(t.Context(), inbound))

	require.Len(t, rec.records, 3)
	assert.Equal(t, envelope.Message(inbound), rec.records[0].msg)
	assert.Equal(t, envelope.Message(answer), rec.records[1].msg)
	assert.Equal(t, envelope.Message(handBack), rec.records[2].msg)
	for i, r := range rec.records {
		assert.Equal(t, i, r.seq)
		assert.Equal(t, rec.records[0].episodeID, r.episodeID)
	}
}

func TestRun_DropsMalformedPayloads(t *testing.T) {
	broker := channel.NewBroker(nil)
	t.Cleanup(broker.Close)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	scripted := &decision.Scripted{Outcomes: []decision.ScriptedOutcome{
		{Decision: decision.Decision{envelope.RequestToSpeak{
			Author: envelope.DefaultModeratorID,
			Target: envelope.DefaultUserProxyID,
		}}},
	}}
	mod := New(Config{
		Channel: broker.Attach(ctx, "chat", envelope.DefaultModeratorID),
		Roster:  &staticSource{roster: roster.Roster{}},
		Decider: scripted,
	})

	observer := broker.Attach(ctx, "chat", "observer")
	user := broker.Attach(ctx, "chat", envelope.DefaultUserProxyID)

	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx) }()

	// Garbage first: dropped without invoking the decider.
	require.NoError(t, user.Publish(ctx, []byte("not json")))
	require.NoError(t, user.Publish(ctx, []byte(`{"type":"Bogus"}`)))

	payload, err := envelope.Encode(userSays("real message"))
	require.NoError(t, err)
	require.NoError(t, user.Publish(ctx, payload))

	// The observer sees the user's publishes too; skip until the
	// moderator's grant shows up.
	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	for {
		raw, err := observer.Receive(recvCtx)
		require.NoError(t, err)
		msg, decodeErr := envelope.Decode(raw)
		if decodeErr != nil {
			continue
		}
		if msg.From() == envelope.DefaultModeratorID {
			assert.Equal(t, envelope.TypeRequestToSpeak, msg.Type())
			break
		}
	}
	assert.Equal(t, 1, scripted.Calls)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
