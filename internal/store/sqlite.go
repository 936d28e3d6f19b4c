package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite is the file-backed Store used in single-host deployments and in
// tests. WAL mode keeps concurrent Append/Query safe within one process.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id    INTEGER PRIMARY KEY,
		title TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id             TEXT PRIMARY KEY,
		thread_id      INTEGER NOT NULL REFERENCES threads(id),
		participant_id INTEGER NOT NULL,
		display_name   TEXT NOT NULL,
		body           TEXT NOT NULL,
		sent_at        INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread_sent ON messages(thread_id, sent_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, m Message, threadTitle string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get-or-create the thread. First-seen titles are sticky; a generic
	// placeholder may be upgraded once a real title shows up.
	var stored string
	err = tx.QueryRowContext(ctx, `SELECT title FROM threads WHERE id = ?`, m.ThreadID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO threads (id, title) VALUES (?, ?)`, m.ThreadID, threadTitle); err != nil {
			return 0, fmt.Errorf("insert thread: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup thread: %w", err)
	case genericTitle(m.ThreadID, stored) && !genericTitle(m.ThreadID, threadTitle):
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET title = ? WHERE id = ?`, threadTitle, m.ThreadID); err != nil {
			return 0, fmt.Errorf("update thread title: %w", err)
		}
	}

	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, participant_id, display_name, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), m.ThreadID, m.ParticipantID, m.DisplayName, m.Text, m.SentAt.UTC().UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (s *SQLite) Query(ctx context.Context, start, end time.Time) (map[int64][]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, participant_id, display_name, body, sent_at
		FROM messages
		WHERE sent_at >= ? AND sent_at <= ?
		ORDER BY sent_at ASC, id ASC`,
		start.UTC().UnixMicro(), end.UTC().UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]Message)
	for rows.Next() {
		var (
			idStr  string
			m      Message
			sentAt int64
		)
		if err := rows.Scan(&idStr, &m.ThreadID, &m.ParticipantID, &m.DisplayName, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID, _ = uuid.Parse(idStr)
		m.SentAt = time.UnixMicro(sentAt).UTC()
		result[m.ThreadID] = append(result[m.ThreadID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func (s *SQLite) ThreadTitle(ctx context.Context, threadID int64) string {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM threads WHERE id = ?`, threadID).Scan(&title)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Warn("thread title lookup failed", "thread_id", threadID, "error", err)
		}
		return PlaceholderTitle(threadID)
	}
	if title == "" {
		return PlaceholderTitle(threadID)
	}
	return title
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
