// Package events bridges the digest pipeline onto NATS: an optional
// second ingestion path for message events and a notification subject
// for generated digests.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kavehm/digestbot/internal/ollama"
	"github.com/kavehm/digestbot/internal/store"
)

const (
	// SubjectMessages carries inbound message events to ingest.
	SubjectMessages = "digestbot.messages"
	// SubjectDigest announces each generated digest.
	SubjectDigest = "digestbot.digest.generated"
)

// MessageEvent is the inbound ingestion payload. A null thread id maps
// to the default thread, a null title to the placeholder.
type MessageEvent struct {
	ThreadID      *int64  `json:"thread_id"`
	ThreadTitle   *string `json:"thread_title"`
	ParticipantID int64   `json:"participant_id"`
	DisplayName   string  `json:"display_name"`
	Text          string  `json:"text"`
	Timestamp     string  `json:"timestamp"`
}

// DigestEvent is published after every completed pipeline run.
type DigestEvent struct {
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Source      ollama.Source `json:"source"`
	Length      int           `json:"length"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// SubscribeMessages feeds inbound message events into the store.
// Malformed events are logged and dropped, never retried.
func (c *Client) SubscribeMessages(ctx context.Context, st store.Store) error {
	sub, err := c.conn.Subscribe(SubjectMessages, func(msg *nats.Msg) {
		var ev MessageEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("dropping malformed message event", "error", err)
			return
		}
		m, title, err := ev.toMessage()
		if err != nil {
			c.logger.Warn("dropping invalid message event", "error", err)
			return
		}
		if _, err := st.Append(ctx, m, title); err != nil {
			c.logger.Error("failed to store message event", "thread_id", m.ThreadID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectMessages, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", SubjectMessages)
	return nil
}

// PublishDigest satisfies the pipeline's Publisher.
func (c *Client) PublishDigest(start, end time.Time, source ollama.Source, length int) error {
	payload, err := json.Marshal(DigestEvent{
		Start:       start,
		End:         end,
		Source:      source,
		Length:      length,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal digest event: %w", err)
	}
	return c.conn.Publish(SubjectDigest, payload)
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

func (ev MessageEvent) toMessage() (store.Message, string, error) {
	if ev.Text == "" {
		return store.Message{}, "", fmt.Errorf("empty text")
	}
	sentAt, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		return store.Message{}, "", fmt.Errorf("parse timestamp %q: %w", ev.Timestamp, err)
	}

	threadID := store.DefaultThreadID
	if ev.ThreadID != nil {
		threadID = *ev.ThreadID
	}
	title := ""
	if ev.ThreadTitle != nil {
		title = *ev.ThreadTitle
	} else if threadID == store.DefaultThreadID {
		title = store.DefaultThreadTitle
	}

	return store.Message{
		ThreadID:      threadID,
		ParticipantID: ev.ParticipantID,
		DisplayName:   ev.DisplayName,
		Text:          ev.Text,
		SentAt:        sentAt.UTC(),
	}, title, nil
}
