// ABOUTME: Math specialist task: evaluates arithmetic expressions with govaluate.
// ABOUTME: Natural-language questions are first reduced to an expression by the model.

package math

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/2389/noa/internal/llm"
)

const extractPrompt = `You turn a math question into a single arithmetic expression.
Reply with only the expression, nothing else. Examples:
"What is 95-80?" -> 95-80
"three squared plus one" -> 3**2 + 1
If the question already is an expression, reply with it unchanged.`

// Task answers math queries. The model client is optional: without one,
// only queries that already are expressions can be answered.
type Task struct {
	client llm.Client
	logger *slog.Logger
}

// New creates the math task. client may be nil; pass nil logger for
// default.
func New(client llm.Client, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{client: client, logger: logger.With("component", "math")}
}

// Execute evaluates the query. A query that parses as an expression is
// evaluated directly; otherwise the model rewrites it into one first.
func (t *Task) Execute(ctx context.Context, query string) (string, error) {
	if result, err := evaluate(query); err == nil {
		return result, nil
	}

	if t.client == nil {
		return "", fmt.Errorf("not a valid expression: %q", query)
	}

	expr, err := t.client.Chat(ctx, []llm.ChatTurn{
		{Role: "system", Content: extractPrompt},
		{Role: "user", Content: query},
	})
	if err != nil {
		return "", fmt.Errorf("extract expression: %w", err)
	}
	expr = strings.TrimSpace(expr)
	t.logger.Debug("extracted expression", "query", query, "expression", expr)

	result, err := evaluate(expr)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return result, nil
}

// evaluate computes one expression. govaluate shares Python's ** exponent
// syntax, so model-extracted expressions need no rewriting.
func evaluate(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("empty expression")
	}

	expr, err := govaluate.NewEvaluableExpression(trimmed)
	if err != nil {
		return "", err
	}
	value, err := expr.Evaluate(nil)
	if err != nil {
		return "", err
	}

	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
