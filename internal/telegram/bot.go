package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kavehm/digestbot/internal/scheduler"
	"github.com/kavehm/digestbot/internal/store"
	"github.com/kavehm/digestbot/internal/summarizer"
)

const (
	replyNoMessages  = "No messages found in the last 24 hours."
	replyBusy        = "A summary is already being generated, try again in a moment."
	replyUnavailable = "Summary is temporarily unavailable, please try again later."
)

// Pipeline is the digest pipeline entry point shared with the scheduler
// and the HTTP API.
type Pipeline interface {
	Run(ctx context.Context, start, end time.Time, kind summarizer.Kind) (summarizer.Outcome, error)
}

// Bot consumes Telegram updates from the monitored chats: text messages
// are appended to the store, /summary runs the manual pipeline, and
// everything else, including any update from outside the allow-list, is
// logged and ignored.
type Bot struct {
	client    *Client
	store     store.Store
	pipeline  Pipeline
	monitored map[int64]struct{}
	loc       *time.Location
	logger    *slog.Logger
}

func NewBot(client *Client, st store.Store, pipeline Pipeline, monitored []int64, loc *time.Location, logger *slog.Logger) *Bot {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]struct{}, len(monitored))
	for _, id := range monitored {
		allowed[id] = struct{}{}
	}
	return &Bot{
		client:    client,
		store:     st,
		pipeline:  pipeline,
		monitored: allowed,
		loc:       loc,
		logger:    logger,
	}
}

// Poll runs the getUpdates loop until ctx is cancelled.
func (b *Bot) Poll(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := b.client.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate processes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	// Edits are intentionally ignored: the log is append-only and the
	// first receipt wins.
	if u.EditedMessage != nil {
		b.logger.Debug("ignoring edited message", "chat_id", u.EditedMessage.Chat.ID)
		return
	}
	m := u.Message
	if m == nil {
		return
	}

	if _, ok := b.monitored[m.Chat.ID]; !ok {
		b.logger.Debug("ignoring message from unmonitored chat", "chat_id", m.Chat.ID)
		return
	}

	if strings.HasPrefix(m.Text, "/summary") {
		b.manualSummary(ctx, m.Chat.ID)
		return
	}
	if m.Text == "" {
		b.logger.Debug("ignoring non-text message", "chat_id", m.Chat.ID, "from", m.From.DisplayName())
		return
	}

	threadID := store.DefaultThreadID
	if m.MessageThreadID != nil {
		threadID = *m.MessageThreadID
	}

	var participantID int64
	if m.From != nil {
		participantID = m.From.ID
	}

	total, err := b.store.Append(ctx, store.Message{
		ThreadID:      threadID,
		ParticipantID: participantID,
		DisplayName:   m.From.DisplayName(),
		Text:          m.Text,
		SentAt:        time.Unix(m.Date, 0).UTC(),
	}, threadTitle(m, threadID))
	if err != nil {
		// Ingestion failure is a hard error, never a silent drop.
		b.logger.Error("failed to store message", "chat_id", m.Chat.ID, "thread_id", threadID, "error", err)
		return
	}
	b.logger.Info("message stored",
		"thread_id", threadID,
		"from", m.From.DisplayName(),
		"total", total,
	)
}

// threadTitle picks the title observation to carry with an append: the
// forum topic name when the update includes one, the well-known main
// title for the default thread, and empty (placeholder) otherwise.
func threadTitle(m *IncomingMessage, threadID int64) string {
	if m.IsTopicMessage && m.ReplyToMessage != nil && m.ReplyToMessage.TopicCreated != nil {
		return m.ReplyToMessage.TopicCreated.Name
	}
	if threadID == store.DefaultThreadID {
		return store.DefaultThreadTitle
	}
	return ""
}

// manualSummary runs the pipeline over the trailing 24 hours and replies
// in the requesting chat. The user always gets text back, never an error.
func (b *Bot) manualSummary(ctx context.Context, chatID int64) {
	b.logger.Info("manual summary requested", "chat_id", chatID)

	now := time.Now().In(b.loc)
	out, err := b.pipeline.Run(ctx, now.Add(-scheduler.Window), now, summarizer.KindManual)

	reply := out.Text
	switch {
	case errors.Is(err, summarizer.ErrNoMessages):
		reply = replyNoMessages
	case errors.Is(err, summarizer.ErrBusy):
		reply = replyBusy
	case err != nil:
		b.logger.Error("manual summary failed", "error", err)
		reply = replyUnavailable
	}

	if err := b.client.SendMessage(ctx, chatID, reply); err != nil {
		b.logger.Error("failed to reply with summary", "chat_id", chatID, "error", err)
	}
}
