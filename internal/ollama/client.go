// Package ollama calls the text-generation backend. Generate never fails
// outward: transport trouble is retried with exponential backoff and then
// degraded to a locally computed fallback digest.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kavehm/digestbot/internal/retry"
)

// Options are the generation parameters sent with every request.
type Options struct {
	NumCtx        int     `json:"num_ctx" yaml:"num_ctx"`
	NumThread     int     `json:"num_thread" yaml:"num_thread"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	TopP          float64 `json:"top_p" yaml:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty" yaml:"repeat_penalty"`
}

// DefaultOptions favours fast, deterministic output.
func DefaultOptions() Options {
	return Options{
		NumCtx:        2048,
		NumThread:     4,
		Temperature:   0.1,
		TopP:          0.95,
		RepeatPenalty: 1.1,
	}
}

// Source says where a digest came from.
type Source string

const (
	// SourceModel is a digest generated by the backend.
	SourceModel Source = "model"
	// SourceFallback is the locally computed degraded-mode digest.
	SourceFallback Source = "fallback"
	// SourceFormatError is a truncated raw backend body returned after
	// both JSON decoding and substring extraction failed on a successful
	// transport response.
	SourceFormatError Source = "format_error"
)

// Result is the typed outcome of a generation call. No error crosses the
// pipeline boundary; degraded outcomes are tagged by Source instead.
type Result struct {
	Text     string
	Source   Source
	Attempts int
}

type request struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

// response is the success payload. Extra backend fields are ignored.
type response struct {
	Response string `json:"response"`
}

// Client talks to an Ollama /api/generate endpoint.
type Client struct {
	url       string
	model     string
	opts      Options
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger
}

// NewClient creates a generation client. timeout bounds each transport
// attempt, not the whole retry loop.
func NewClient(url, model string, opts Options, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:       url,
		model:     model,
		opts:      opts,
		client:    &http.Client{Timeout: timeout},
		attempts:  3,
		baseDelay: time.Second,
		logger:    logger,
	}
}

// SetRetry overrides the attempt count and base backoff delay.
func (c *Client) SetRetry(attempts int, baseDelay time.Duration) {
	c.attempts = attempts
	c.baseDelay = baseDelay
}

// Generate runs the prompt through the backend. On retry exhaustion it
// returns the fallback digest rather than an error, because the consuming
// chat surface has no recovery path for a hard failure.
func (c *Client) Generate(ctx context.Context, prompt string) Result {
	var (
		text     string
		source   Source
		attempts int
	)

	err := retry.Do(ctx, retry.Config{MaxAttempts: c.attempts, BaseDelay: c.baseDelay}, func() error {
		attempts++
		t, s, err := c.attempt(ctx, prompt)
		if err != nil {
			c.logger.Warn("generation attempt failed",
				"attempt", attempts, "max", c.attempts, "error", err)
			return err
		}
		text, source = t, s
		return nil
	})
	if err != nil {
		c.logger.Info("backend unavailable, using fallback digest", "attempts", attempts)
		return Result{Text: FallbackSummary(prompt), Source: SourceFallback, Attempts: attempts}
	}

	c.logger.Info("generation complete", "source", string(source), "length", len(text), "attempts", attempts)
	return Result{Text: text, Source: source, Attempts: attempts}
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, Source, error) {
	body, err := json.Marshal(request{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: c.opts,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("backend call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(string(raw), 400))
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Response == "" {
			return "", "", fmt.Errorf("empty generated text in response")
		}
		return parsed.Response, SourceModel, nil
	}

	// The transport call succeeded but the body is not valid JSON. Try a
	// best-effort extraction of the text field before giving up; a format
	// error is not retried because the backend did answer.
	c.logger.Warn("failed to parse backend response as JSON, attempting raw extraction", "length", len(raw))
	if extracted, ok := extractResponseField(string(raw)); ok {
		return extracted, SourceModel, nil
	}
	return "NOTE: Response format error. Raw output:\n\n" + truncate(string(raw), 500), SourceFormatError, nil
}

// extractResponseField pulls the generated text out of a malformed JSON
// body by locating the response field's quoted value.
func extractResponseField(raw string) (string, bool) {
	const marker = `"response": "`
	start := strings.Index(raw, marker)
	if start < 0 {
		return "", false
	}
	start += len(marker)
	end := strings.Index(raw[start:], `",`)
	if end <= 0 {
		return "", false
	}
	return raw[start : start+end], true
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
