// Package store is the durable message log: append-only chat messages
// partitioned by thread, queryable by inclusive time range.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultThreadID is the reserved thread id for the main conversation.
// Inbound events with no thread id are normalized to it.
const DefaultThreadID int64 = 0

// DefaultThreadTitle is the rendered title for the main conversation.
const DefaultThreadTitle = "Main Group Chat"

// Message is one stored chat message. Messages are immutable once appended.
type Message struct {
	ID            uuid.UUID
	ThreadID      int64
	ParticipantID int64
	DisplayName   string
	Text          string
	SentAt        time.Time // always UTC
}

// Store is the durable message log. Implementations must be safe for
// concurrent Append and Query calls; a query never observes a
// partially-written message.
type Store interface {
	// Append records one message. If the thread id is new, the thread is
	// created with the given title. A known thread keeps its title unless
	// the stored title is a generic placeholder and the incoming one is
	// not. Returns the total number of stored messages.
	Append(ctx context.Context, m Message, threadTitle string) (int, error)

	// Query returns messages with SentAt in [start, end], both bounds
	// inclusive, grouped by thread and ordered by timestamp ascending
	// within each thread. Threads with no matching messages are omitted.
	Query(ctx context.Context, start, end time.Time) (map[int64][]Message, error)

	// ThreadTitle returns the stored title for a thread, or a generated
	// placeholder when the thread is unknown. It never fails: lookup
	// errors degrade to the placeholder.
	ThreadTitle(ctx context.Context, threadID int64) string

	// Count returns the total number of stored messages.
	Count(ctx context.Context) (int, error)

	Close()
}

// PlaceholderTitle is the generated title for threads that were referenced
// but never named. The default thread gets its well-known name instead.
func PlaceholderTitle(threadID int64) string {
	if threadID == DefaultThreadID {
		return DefaultThreadTitle
	}
	return fmt.Sprintf("Thread %d", threadID)
}

// genericTitle reports whether a title carries no real information and may
// be replaced by a later, more specific observation.
func genericTitle(threadID int64, title string) bool {
	return title == "" || title == fmt.Sprintf("Thread %d", threadID)
}

// Open selects a backend from the DSN: postgres:// and postgresql:// URLs
// get the pgx-backed store, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgres(ctx, dsn)
	}
	return NewSQLite(ctx, dsn)
}
