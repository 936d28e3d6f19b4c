package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kavehm/digestbot/internal/store"
	"github.com/kavehm/digestbot/internal/summarizer"
)

// fakeAPI is a stand-in Telegram Bot API that records sendMessage calls.
type fakeAPI struct {
	mu      sync.Mutex
	sent    []sentMessage
	updates string // canned getUpdates result JSON
}

type sentMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		result := f.updates
		if result == "" {
			result = "[]"
		}
		w.Write([]byte(`{"ok": true, "result": ` + result + `}`))
	})
	mux.HandleFunc("/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var msg sentMessage
		json.NewDecoder(r.Body).Decode(&msg)
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		f.mu.Unlock()
		w.Write([]byte(`{"ok": true, "result": {}}`))
	})
	return mux
}

func (f *fakeAPI) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return f.sent[len(f.sent)-1]
}

// recordStore records appends.
type recordStore struct {
	mu      sync.Mutex
	appends []appended
}

type appended struct {
	Msg   store.Message
	Title string
}

func (r *recordStore) Append(ctx context.Context, m store.Message, title string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends = append(r.appends, appended{m, title})
	return len(r.appends), nil
}

func (r *recordStore) Query(ctx context.Context, start, end time.Time) (map[int64][]store.Message, error) {
	return nil, nil
}

func (r *recordStore) ThreadTitle(ctx context.Context, threadID int64) string {
	return store.PlaceholderTitle(threadID)
}

func (r *recordStore) Count(ctx context.Context) (int, error) { return 0, nil }
func (r *recordStore) Close()                                 {}

// fakePipeline returns a canned outcome.
type fakePipeline struct {
	mu      sync.Mutex
	calls   int
	outcome summarizer.Outcome
	err     error
}

func (p *fakePipeline) Run(ctx context.Context, start, end time.Time, kind summarizer.Kind) (summarizer.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.outcome, p.err
}

func newTestBot(t *testing.T, api *fakeAPI, st store.Store, p Pipeline) *Bot {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)
	client := NewClient(server.URL, time.Second)
	return NewBot(client, st, p, []int64{-100}, time.UTC, nil)
}

func textUpdate(chatID, userID int64, name, text string) Update {
	return Update{
		UpdateID: 1,
		Message: &IncomingMessage{
			MessageID: 10,
			From:      &User{ID: userID, Username: name},
			Chat:      Chat{ID: chatID},
			Date:      time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).Unix(),
			Text:      text,
		},
	}
}

func TestHandleUpdate_StoresTextMessage(t *testing.T) {
	st := &recordStore{}
	bot := newTestBot(t, &fakeAPI{}, st, &fakePipeline{})

	bot.HandleUpdate(context.Background(), textUpdate(-100, 1, "alice", "hello there"))

	if len(st.appends) != 1 {
		t.Fatalf("expected 1 append, got %d", len(st.appends))
	}
	got := st.appends[0]
	if got.Msg.ThreadID != store.DefaultThreadID {
		t.Errorf("messages without a thread id belong to the default thread, got %d", got.Msg.ThreadID)
	}
	if got.Msg.ParticipantID != 1 || got.Msg.DisplayName != "alice" || got.Msg.Text != "hello there" {
		t.Errorf("unexpected stored message: %+v", got.Msg)
	}
	if got.Title != store.DefaultThreadTitle {
		t.Errorf("expected default thread title, got %q", got.Title)
	}
	if got.Msg.SentAt.Location() != time.UTC {
		t.Error("timestamps must be normalized to UTC")
	}
}

func TestHandleUpdate_TopicMessage(t *testing.T) {
	st := &recordStore{}
	bot := newTestBot(t, &fakeAPI{}, st, &fakePipeline{})

	threadID := int64(42)
	u := textUpdate(-100, 1, "alice", "topic talk")
	u.Message.MessageThreadID = &threadID
	u.Message.IsTopicMessage = true
	u.Message.ReplyToMessage = &IncomingMessage{TopicCreated: &ForumTopic{Name: "Releases"}}

	bot.HandleUpdate(context.Background(), u)

	if len(st.appends) != 1 {
		t.Fatalf("expected 1 append, got %d", len(st.appends))
	}
	if st.appends[0].Msg.ThreadID != 42 || st.appends[0].Title != "Releases" {
		t.Errorf("unexpected thread mapping: %+v", st.appends[0])
	}
}

func TestHandleUpdate_IgnoresEdits(t *testing.T) {
	st := &recordStore{}
	bot := newTestBot(t, &fakeAPI{}, st, &fakePipeline{})

	bot.HandleUpdate(context.Background(), Update{
		UpdateID: 2,
		EditedMessage: &IncomingMessage{
			From: &User{ID: 1, Username: "alice"},
			Chat: Chat{ID: -100},
			Text: "edited text",
		},
	})

	if len(st.appends) != 0 {
		t.Error("edited messages must not reach the store")
	}
}

func TestHandleUpdate_IgnoresUnmonitoredChat(t *testing.T) {
	st := &recordStore{}
	bot := newTestBot(t, &fakeAPI{}, st, &fakePipeline{})

	bot.HandleUpdate(context.Background(), textUpdate(-999, 1, "alice", "wrong chat"))

	if len(st.appends) != 0 {
		t.Error("messages from unmonitored chats must be ignored")
	}
}

func TestHandleUpdate_IgnoresNonText(t *testing.T) {
	st := &recordStore{}
	bot := newTestBot(t, &fakeAPI{}, st, &fakePipeline{})

	bot.HandleUpdate(context.Background(), textUpdate(-100, 1, "alice", ""))

	if len(st.appends) != 0 {
		t.Error("non-text messages must be ignored")
	}
}

func TestHandleUpdate_SummaryFromUnmonitoredChat(t *testing.T) {
	api := &fakeAPI{}
	p := &fakePipeline{outcome: summarizer.Outcome{Text: "digest"}}
	bot := newTestBot(t, api, &recordStore{}, p)

	bot.HandleUpdate(context.Background(), textUpdate(-999, 1, "alice", "/summary"))

	if p.calls != 0 {
		t.Errorf("chats outside the allow-list must not trigger runs, got %d", p.calls)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 0 {
		t.Errorf("no reply expected, got %+v", api.sent)
	}
}

func TestHandleUpdate_SummaryCommand(t *testing.T) {
	api := &fakeAPI{}
	p := &fakePipeline{outcome: summarizer.Outcome{Text: "📊 Summary of the last 24 hours:\n\nthe digest"}}
	bot := newTestBot(t, api, &recordStore{}, p)

	bot.HandleUpdate(context.Background(), textUpdate(-100, 1, "alice", "/summary"))

	if p.calls != 1 {
		t.Fatalf("expected 1 pipeline run, got %d", p.calls)
	}
	sent := api.lastSent(t)
	if sent.ChatID != -100 || !strings.Contains(sent.Text, "the digest") {
		t.Errorf("unexpected reply: %+v", sent)
	}
}

func TestHandleUpdate_SummaryNoMessages(t *testing.T) {
	api := &fakeAPI{}
	p := &fakePipeline{outcome: summarizer.Outcome{Text: summarizer.NoMessagesText}, err: summarizer.ErrNoMessages}
	bot := newTestBot(t, api, &recordStore{}, p)

	bot.HandleUpdate(context.Background(), textUpdate(-100, 1, "alice", "/summary"))

	if got := api.lastSent(t).Text; got != replyNoMessages {
		t.Errorf("expected %q, got %q", replyNoMessages, got)
	}
}

func TestHandleUpdate_SummaryBusy(t *testing.T) {
	api := &fakeAPI{}
	p := &fakePipeline{err: summarizer.ErrBusy}
	bot := newTestBot(t, api, &recordStore{}, p)

	bot.HandleUpdate(context.Background(), textUpdate(-100, 1, "alice", "/summary"))

	if got := api.lastSent(t).Text; got != replyBusy {
		t.Errorf("expected %q, got %q", replyBusy, got)
	}
}

func TestSendMessage_Truncates(t *testing.T) {
	api := &fakeAPI{}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	client := NewClient(server.URL, time.Second)

	long := strings.Repeat("x", 5000)
	if err := client.SendMessage(context.Background(), -100, long); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got := len(api.lastSent(t).Text); got != maxMessageLen {
		t.Errorf("expected truncation to %d chars, got %d", maxMessageLen, got)
	}
}

func TestGetUpdates(t *testing.T) {
	api := &fakeAPI{updates: `[{"update_id": 7, "message": {"message_id": 1, "chat": {"id": -100}, "date": 1748772000, "text": "hi", "from": {"id": 1, "username": "alice"}}}]`}
	server := httptest.NewServer(api.handler())
	defer server.Close()
	client := NewClient(server.URL, time.Second)

	updates, err := client.GetUpdates(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 1 || updates[0].UpdateID != 7 || updates[0].Message.Text != "hi" {
		t.Errorf("unexpected updates: %+v", updates)
	}
}
