// ABOUTME: Tests for the file search task: indexing, FTS matching, model answers.
// ABOUTME: Uses a temp document directory and an in-memory index.

package filerag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/noa/internal/llm"
)

type fakeModel struct {
	reply string
	err   error
	turns []llm.ChatTurn
}

func (f *fakeModel) Chat(_ context.Context, turns []llm.ChatTurn) (string, error) {
	f.turns = turns
	return f.reply, f.err
}

func docsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"recipes.md":  "# Pancakes\n\nMix flour, eggs and milk. Fry until golden.\n\n# Soup\n\nBoil vegetables with stock.",
		"notes.txt":   "The quarterly budget meeting moved to Thursday.\n\nRemember to renew the datacenter contract.",
		"binary.webp": "\x00\x01\x02 not indexed",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func newTask(t *testing.T, client llm.Client) *Task {
	t.Helper()
	task, err := New(":memory:", docsDir(t), client, nil)
	require.NoError(t, err)
	t.Cleanup(func() { task.Close() })
	return task
}

func TestExecute_FindsMatchingDocument(t *testing.T) {
	task := newTask(t, nil)

	answer, err := task.Execute(t.Context(), "how do I make pancakes?")
	require.NoError(t, err)
	assert.Contains(t, answer, "recipes.md")
	assert.Contains(t, answer, "flour")
	assert.NotContains(t, answer, "budget")
}

func TestExecute_ModelAnswersFromExcerpts(t *testing.T) {
	model := &fakeModel{reply: "Mix flour, eggs and milk, then fry."}
	task := newTask(t, model)

	answer, err := task.Execute(t.Context(), "how do I make pancakes?")
	require.NoError(t, err)
	assert.Equal(t, "Mix flour, eggs and milk, then fry.", answer)

	require.Len(t, model.turns, 2)
	assert.Contains(t, model.turns[1].Content, "Fry until golden")
	assert.Contains(t, model.turns[1].Content, "how do I make pancakes?")
}

func TestExecute_NoMatchSaysSo(t *testing.T) {
	task := newTask(t, nil)

	answer, err := task.Execute(t.Context(), "what about quantum chromodynamics?")
	require.NoError(t, err)
	assert.Contains(t, answer, "could not find")
}

func TestExecute_ModelFailurePropagates(t *testing.T) {
	task := newTask(t, &fakeModel{err: fmt.Errorf("model down")})

	_, err := task.Execute(t.Context(), "pancakes recipe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model down")
}

func TestExecute_FTSQuerySyntaxIsEscaped(t *testing.T) {
	task := newTask(t, nil)

	// FTS5 operators in the question must not cause a query error.
	_, err := task.Execute(t.Context(), `budget AND "meeting" NEAR(contract)?`)
	require.NoError(t, err)
}

func TestSplitChunks(t *testing.T) {
	chunks := splitChunks("one\n\ntwo\n\n\n\nthree")
	require.Len(t, chunks, 1)
	assert.Equal(t, "one\n\ntwo\n\nthree", chunks[0])

	long := ""
	for i := 0; i < 50; i++ {
		long += fmt.Sprintf("paragraph number %d with some padding text to take up room\n\n", i)
	}
	assert.Greater(t, len(splitChunks(long)), 1)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"pancakes" OR "recipe"`, ftsQuery("pancakes recipe?"))
	assert.Equal(t, "", ftsQuery("a an"))
}
