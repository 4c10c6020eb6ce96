// ABOUTME: SQLite episode ledger using modernc.org/sqlite
// ABOUTME: Persists every routed message with its episode id and sequence number

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/noa/internal/envelope"
)

// Entry is one recorded message within an episode.
type Entry struct {
	EpisodeID string
	Seq       int
	Kind      string
	Author    string
	Target    string
	Body      string
	CreatedAt time.Time
}

// Ledger persists episode transcripts to SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database at path. Parent directories
// are created if needed.
func Open(path string) (*Ledger, error) {
	logger := slog.Default().With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			episode_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			author TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (episode_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_entries_episode
			ON entries(episode_id, seq);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Record stores one message under its episode and sequence number.
func (l *Ledger) Record(ctx context.Context, episodeID string, seq int, m envelope.Message) error {
	var target, body string
	switch msg := m.(type) {
	case envelope.ChatMessage:
		body = msg.Message
	case envelope.RequestToSpeak:
		target = msg.Target
		body = msg.Message
	default:
		return fmt.Errorf("unsupported message type %q", m.Type())
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO entries (episode_id, seq, kind, author, target, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, episodeID, seq, m.Type(), m.From(), target, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording entry %d of episode %s: %w", seq, episodeID, err)
	}
	return nil
}

// Episode returns one episode's entries in sequence order.
func (l *Ledger) Episode(ctx context.Context, episodeID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT episode_id, seq, kind, author, target, body, created_at
		FROM entries
		WHERE episode_id = ?
		ORDER BY seq
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("loading episode %s: %w", episodeID, err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Recent returns the newest entries across all episodes, newest first,
// capped at limit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT episode_id, seq, kind, author, target, body, created_at
		FROM entries
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// EpisodeIDs lists episode ids newest first.
func (l *Ledger) EpisodeIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT episode_id
		FROM entries
		GROUP BY episode_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing episodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("reading episode id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EpisodeID, &e.Seq, &e.Kind, &e.Author, &e.Target, &e.Body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("reading entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
