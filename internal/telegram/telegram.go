// Package telegram is the thin chat-transport wrapper: it long-polls the
// Bot API for updates, feeds text messages into the store, answers the
// /summary command, and delivers digests.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxMessageLen keeps outbound text under the Bot API's 4096-char limit
// with headroom for formatting.
const maxMessageLen = 3900

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>"). pollTimeout is the
// getUpdates long-poll duration; the HTTP timeout is padded past it.
func NewClient(apiBase string, pollTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: pollTimeout + 10*time.Second,
		},
	}
}

// apiResponse is the generic Bot API response wrapper.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID      int64            `json:"update_id"`
	Message       *IncomingMessage `json:"message,omitempty"`
	EditedMessage *IncomingMessage `json:"edited_message,omitempty"`
}

// IncomingMessage is the subset of the Bot API message object the bot
// cares about.
type IncomingMessage struct {
	MessageID       int64            `json:"message_id"`
	From            *User            `json:"from,omitempty"`
	Chat            Chat             `json:"chat"`
	Date            int64            `json:"date"`
	Text            string           `json:"text,omitempty"`
	MessageThreadID *int64           `json:"message_thread_id,omitempty"`
	IsTopicMessage  bool             `json:"is_topic_message,omitempty"`
	ReplyToMessage  *IncomingMessage `json:"reply_to_message,omitempty"`
	TopicCreated    *ForumTopic      `json:"forum_topic_created,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type ForumTopic struct {
	Name string `json:"name"`
}

// DisplayName prefers the username, falling back to the first name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// GetUpdates long-polls the getUpdates endpoint.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create getUpdates request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read getUpdates response: %w", err)
	}

	var wrapped apiResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse getUpdates response: %w", err)
	}
	if !wrapped.OK {
		return nil, fmt.Errorf("getUpdates rejected: %s", wrapped.Description)
	}

	var updates []Update
	if err := json.Unmarshal(wrapped.Result, &updates); err != nil {
		return nil, fmt.Errorf("parse getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage posts a text message to a chat, truncating oversized text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    truncate(text, maxMessageLen),
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sendMessage response: %w", err)
	}
	var wrapped apiResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return fmt.Errorf("parse sendMessage response: %w", err)
	}
	if !wrapped.OK {
		return fmt.Errorf("sendMessage rejected: %s", wrapped.Description)
	}
	return nil
}

// SendDigest delivers a digest; it satisfies the pipeline's Sender.
func (c *Client) SendDigest(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, chatID, text)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
