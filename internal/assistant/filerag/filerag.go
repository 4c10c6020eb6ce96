// ABOUTME: File specialist task: full-text search over a local document directory.
// ABOUTME: Indexes text files into SQLite FTS5 and answers queries from the best matches.

package filerag

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/2389/noa/internal/llm"
)

// maxSnippets bounds how many matching chunks are handed to the model.
const maxSnippets = 4

// chunkSize is the rough size in bytes of one indexed chunk.
const chunkSize = 1200

const answerPrompt = `You answer questions using excerpts from the user's local documents.
The user message contains the excerpts followed by the question.
Answer from the excerpts alone. If they do not contain the answer, say so.`

var indexableExts = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
	".log": true,
}

// Task indexes a directory of text files and answers queries against it.
// The model client is optional; without it the task returns raw excerpts.
type Task struct {
	db     *sql.DB
	client llm.Client
	logger *slog.Logger
}

// New builds the index at dbPath from the files under docsDir. Pass
// ":memory:" as dbPath for an ephemeral index.
func New(dbPath, docsDir string, client llm.Client, logger *slog.Logger) (*Task, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "filerag")

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	// An in-memory database exists per connection, so the pool must stay
	// at one.
	db.SetMaxOpenConns(1)

	t := &Task{db: db, client: client, logger: logger}
	if err := t.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	if err := t.indexDir(docsDir); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Task) Close() error {
	return t.db.Close()
}

func (t *Task) createSchema() error {
	_, err := t.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks USING fts5(path, content)
	`)
	return err
}

// indexDir replaces the index contents with chunks from every indexable
// file under dir.
func (t *Task) indexDir(dir string) error {
	if _, err := t.db.Exec(`DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}

	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !indexableExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			t.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		for _, chunk := range splitChunks(string(raw)) {
			if _, err := t.db.Exec(`INSERT INTO chunks (path, content) VALUES (?, ?)`, rel, chunk); err != nil {
				return fmt.Errorf("indexing %s: %w", rel, err)
			}
		}
		files++
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", dir, err)
	}

	t.logger.Info("document index built", "dir", dir, "files", files)
	return nil
}

// splitChunks breaks text into paragraph-aligned chunks of roughly
// chunkSize bytes.
func splitChunks(text string) []string {
	var chunks []string
	var current strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > chunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// Execute answers one query from the indexed documents.
func (t *Task) Execute(ctx context.Context, query string) (string, error) {
	snippets, err := t.search(ctx, query)
	if err != nil {
		return "", err
	}
	if len(snippets) == 0 {
		return "I could not find anything about that in the indexed documents.", nil
	}

	var sb strings.Builder
	for _, s := range snippets {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", s.path, s.content)
	}
	excerpts := strings.TrimSpace(sb.String())

	if t.client == nil {
		return excerpts, nil
	}

	answer, err := t.client.Chat(ctx, []llm.ChatTurn{
		{Role: "system", Content: answerPrompt},
		{Role: "user", Content: fmt.Sprintf("Excerpts:\n\n%s\n\nQuestion: %s", excerpts, query)},
	})
	if err != nil {
		return "", fmt.Errorf("answering from documents: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

type snippet struct {
	path    string
	content string
}

func (t *Task) search(ctx context.Context, query string) ([]snippet, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT path, content FROM chunks
		WHERE chunks MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, maxSnippets)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer rows.Close()

	var out []snippet
	for rows.Next() {
		var s snippet
		if err := rows.Scan(&s.path, &s.content); err != nil {
			return nil, fmt.Errorf("reading match: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ftsQuery turns a free-form question into an OR query of its terms,
// quoting each so FTS5 syntax characters in the input cannot break it.
func ftsQuery(query string) string {
	var terms []string
	for _, field := range strings.Fields(query) {
		term := strings.Trim(field, `.,;:!?"'()`)
		if len(term) < 3 {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(term, `"`, ``)+`"`)
	}
	return strings.Join(terms, " OR ")
}
