// ABOUTME: Tests for the user proxy core: ask round trips, single flight, dedupe.
// ABOUTME: Drives the proxy through the in-memory broker like a moderator would.

package userproxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/envelope"
)

type fixture struct {
	proxy *Proxy
	peer  *channel.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	broker := channel.NewBroker(nil)
	t.Cleanup(broker.Close)

	sub := broker.Attach(t.Context(), "noa", envelope.DefaultUserProxyID)
	peer := broker.Attach(t.Context(), "noa", envelope.DefaultModeratorID)

	proxy, err := New(Config{Channel: sub})
	require.NoError(t, err)

	go proxy.Run(t.Context())

	return &fixture{proxy: proxy, peer: peer}
}

func (f *fixture) publish(t *testing.T, msg envelope.Message) {
	t.Helper()
	raw, err := envelope.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, f.peer.Publish(t.Context(), raw))
}

// receive pulls the next payload the peer sees, with a deadline.
func (f *fixture) receive(t *testing.T) envelope.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	raw, err := f.peer.Receive(ctx)
	require.NoError(t, err)
	msg, err := envelope.Decode(raw)
	require.NoError(t, err)
	return msg
}

func TestAsk_RoundTrip(t *testing.T) {
	f := newFixture(t)

	type result struct {
		replies []envelope.ChatMessage
		err     error
	}
	results := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
		defer cancel()
		replies, err := f.proxy.Ask(ctx, "what is 2+2?")
		results <- result{replies, err}
	}()

	question, ok := f.receive(t).(envelope.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, envelope.DefaultUserProxyID, question.Author)
	assert.Equal(t, "what is 2+2?", question.Message)

	f.publish(t, envelope.ChatMessage{Author: "noa-math", Message: "4"})
	f.publish(t, envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID})

	res := <-results
	require.NoError(t, res.err)
	require.Len(t, res.replies, 1)
	assert.Equal(t, "noa-math", res.replies[0].Author)
	assert.Equal(t, "4", res.replies[0].Message)
}

func TestAsk_SecondCallerGetsBusy(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
		defer cancel()
		close(started)
		f.proxy.Ask(ctx, "first question")
	}()
	<-started
	f.receive(t) // first question is on the wire

	_, err := f.proxy.Ask(t.Context(), "second question")
	require.ErrorIs(t, err, ErrBusy)

	f.publish(t, envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID})
}

func TestAsk_ContextExpiryUnblocks(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := f.proxy.Ask(ctx, "anyone there?")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The slot frees up once the first ask gives up.
	ctx2, cancel2 := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel2()
	_, err = f.proxy.Ask(ctx2, "retry")
	require.NotErrorIs(t, err, ErrBusy)
}

func TestRun_RedeliveredPayloadRecordedOnce(t *testing.T) {
	f := newFixture(t)

	raw, err := envelope.Encode(envelope.ChatMessage{Author: "noa-math", Message: "4"})
	require.NoError(t, err)
	require.NoError(t, f.peer.Publish(t.Context(), raw))
	require.NoError(t, f.peer.Publish(t.Context(), raw))

	assert.Eventually(t, func() bool {
		return len(f.proxy.Transcript()) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.proxy.Transcript(), 1)
}

func TestAsk_RepeatedIdenticalTurnsBothComplete(t *testing.T) {
	f := newFixture(t)

	askOnce := func() []envelope.ChatMessage {
		t.Helper()
		results := make(chan []envelope.ChatMessage, 1)
		go func() {
			ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
			defer cancel()
			replies, err := f.proxy.Ask(ctx, "what is 2+2?")
			assert.NoError(t, err)
			results <- replies
		}()
		f.receive(t) // question is on the wire

		f.publish(t, envelope.ChatMessage{Author: "noa-math", Message: "4"})
		f.publish(t, envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: envelope.DefaultUserProxyID})
		return <-results
	}

	first := askOnce()
	require.Len(t, first, 1)

	// The second turn is byte-for-byte the same answer and the same grant.
	// Neither may be suppressed as a redelivery of the first turn's.
	second := askOnce()
	require.Len(t, second, 1)
	assert.Equal(t, "4", second[0].Message)
}

func TestRun_MalformedPayloadSurvives(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.peer.Publish(t.Context(), []byte("not json")))
	f.publish(t, envelope.ChatMessage{Author: "noa-math", Message: "still here"})

	assert.Eventually(t, func() bool {
		lines := f.proxy.Transcript()
		return len(lines) == 1 && lines[0].Text == "still here"
	}, time.Second, 10*time.Millisecond)
}

func TestRun_IgnoresGrantsForOthers(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(t.Context(), 300*time.Millisecond)
		defer cancel()
		_, err := f.proxy.Ask(ctx, "question")
		done <- err
	}()
	f.receive(t)

	f.publish(t, envelope.RequestToSpeak{Author: envelope.DefaultModeratorID, Target: "noa-math"})

	require.ErrorIs(t, <-done, context.DeadlineExceeded)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Web Surfer", DisplayName("noa-web-surfer"))
	assert.Equal(t, "User Proxy", DisplayName(envelope.DefaultUserProxyID))
	assert.Equal(t, "Math", DisplayName("math"))
}
