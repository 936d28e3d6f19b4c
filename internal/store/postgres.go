package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the pgx-backed Store for deployments that already run a
// relational database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and applies the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Postgres) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id    BIGINT PRIMARY KEY,
		title TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id             UUID PRIMARY KEY,
		thread_id      BIGINT NOT NULL REFERENCES threads(id),
		participant_id BIGINT NOT NULL,
		display_name   TEXT NOT NULL,
		body           TEXT NOT NULL,
		sent_at        TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread_sent ON messages(thread_id, sent_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Append(ctx context.Context, m Message, threadTitle string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Get-or-create the thread. First-seen titles are sticky; a generic
	// placeholder may be upgraded once a real title shows up.
	var stored string
	err = tx.QueryRow(ctx, `SELECT title FROM threads WHERE id = $1`, m.ThreadID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO threads (id, title) VALUES ($1, $2)`, m.ThreadID, threadTitle); err != nil {
			return 0, fmt.Errorf("insert thread: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("lookup thread: %w", err)
	case genericTitle(m.ThreadID, stored) && !genericTitle(m.ThreadID, threadTitle):
		if _, err := tx.Exec(ctx, `UPDATE threads SET title = $1 WHERE id = $2`, threadTitle, m.ThreadID); err != nil {
			return 0, fmt.Errorf("update thread title: %w", err)
		}
	}

	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, thread_id, participant_id, display_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, m.ThreadID, m.ParticipantID, m.DisplayName, m.Text, m.SentAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	var total int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (s *Postgres) Query(ctx context.Context, start, end time.Time) (map[int64][]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, participant_id, display_name, body, sent_at
		FROM messages
		WHERE sent_at >= $1 AND sent_at <= $2
		ORDER BY sent_at ASC, id ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]Message)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.ParticipantID, &m.DisplayName, &m.Text, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = m.SentAt.UTC()
		result[m.ThreadID] = append(result[m.ThreadID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func (s *Postgres) ThreadTitle(ctx context.Context, threadID int64) string {
	var title string
	err := s.pool.QueryRow(ctx, `SELECT title FROM threads WHERE id = $1`, threadID).Scan(&title)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("thread title lookup failed", "thread_id", threadID, "error", err)
		}
		return PlaceholderTitle(threadID)
	}
	if title == "" {
		return PlaceholderTitle(threadID)
	}
	return title
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
