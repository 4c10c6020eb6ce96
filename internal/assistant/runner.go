// ABOUTME: Generic specialist loop: listens on the shared space, answers when granted the right to speak.
// ABOUTME: Every grant yields exactly one outbound ChatMessage, even when the task fails.

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/noa/internal/channel"
	"github.com/2389/noa/internal/envelope"
)

// memoryLimit caps how many chat utterances a specialist retains between
// grants.
const memoryLimit = 50

// Task is the specialist's actual capability: answer one query. Context,
// retrieval, browsing, or model calls are the implementation's business.
type Task interface {
	Execute(ctx context.Context, query string) (string, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, query string) (string, error)

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Runner drives one specialist on the shared space. It acts only on
// RequestToSpeak messages addressed to it; chat traffic is remembered
// privately and an episode boundary clears that memory.
type Runner struct {
	id          string
	userProxyID string
	ch          channel.Channel
	task        Task
	logger      *slog.Logger

	mu     sync.Mutex
	memory []envelope.ChatMessage
}

// NewRunner creates a specialist runner. UserProxyID defaults to the
// reserved identifier; pass nil logger for default.
func NewRunner(id, userProxyID string, ch channel.Channel, task Task, logger *slog.Logger) *Runner {
	if userProxyID == "" {
		userProxyID = envelope.DefaultUserProxyID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		id:          id,
		userProxyID: userProxyID,
		ch:          ch,
		task:        task,
		logger:      logger.With("component", "assistant", "id", id),
	}
}

// Run drives the receive loop until ctx is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("assistant ready")
	for {
		payload, err := r.ch.Receive(ctx)
		if errors.Is(err, channel.ErrClosed) || errors.Is(err, context.Canceled) {
			r.logger.Info("receive loop stopped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		msg, err := envelope.Decode(payload)
		if err != nil {
			r.logger.Warn("dropping undecodable message", "error", err)
			continue
		}

		if err := r.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle processes one decoded message per the specialist contract.
func (r *Runner) handle(ctx context.Context, msg envelope.Message) error {
	switch m := msg.(type) {
	case envelope.ChatMessage:
		r.remember(m)
		return nil

	case envelope.RequestToSpeak:
		if m.Target == r.userProxyID {
			// Episode is over; forget everything private to it.
			r.mu.Lock()
			r.memory = nil
			r.mu.Unlock()
			return nil
		}
		if m.Target != r.id {
			return nil
		}
		return r.answer(ctx, m.Message)

	default:
		return nil
	}
}

// answer executes the task and publishes exactly one ChatMessage. Task
// failures become a readable failure message, never a dropped turn.
func (r *Runner) answer(ctx context.Context, query string) error {
	r.logger.Info("processing request", "query", query)

	text, err := r.task.Execute(ctx, query)
	if err != nil {
		r.logger.Error("task failed", "error", err)
		text = fmt.Sprintf("There was an error with the %s: %v", r.id, err)
	}

	reply := envelope.ChatMessage{Author: r.id, Message: text}
	payload, err := envelope.Encode(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if err := r.ch.Publish(ctx, payload); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	r.logger.Info("responded", "bytes", len(text))
	return nil
}

// remember keeps recent chat context for tasks that want it, bounded so a
// long-lived specialist cannot grow without limit.
func (r *Runner) remember(m envelope.ChatMessage) {
	if m.Author == r.id {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = append(r.memory, m)
	if len(r.memory) > memoryLimit {
		r.memory = r.memory[len(r.memory)-memoryLimit:]
	}
}

// Memory returns a snapshot of the private chat context accumulated this
// episode.
func (r *Runner) Memory() []envelope.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]envelope.ChatMessage, len(r.memory))
	copy(out, r.memory)
	return out
}
