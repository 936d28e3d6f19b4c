// Package summarizer orchestrates the digest pipeline: query the window,
// aggregate by thread and participant, build the prompt, call the
// generation backend, and fan the digest out to its destinations.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kavehm/digestbot/internal/aggregate"
	"github.com/kavehm/digestbot/internal/ollama"
	"github.com/kavehm/digestbot/internal/prompt"
	"github.com/kavehm/digestbot/internal/roster"
	"github.com/kavehm/digestbot/internal/store"
)

// Kind distinguishes the two ways a run is triggered; it only affects the
// banner on the delivered digest.
type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindManual    Kind = "manual"
)

const (
	bannerScheduled = "📊 Daily Summary:"
	bannerManual    = "📊 Summary of the last 24 hours:"
)

// NoMessagesText is the pipeline's explicit empty-window result.
const NoMessagesText = "No messages in the selected timeframe."

// ErrBusy means a run is already in flight. The generation backend is
// single-capacity, so a second concurrent run is never started.
var ErrBusy = errors.New("a summary run is already in progress")

// ErrNoMessages means the window matched nothing. It is a condition, not
// a failure: the returned Outcome still carries NoMessagesText.
var ErrNoMessages = errors.New("no messages in window")

// Generator produces digest text for a prompt. It never fails; degraded
// outcomes are tagged on the result.
type Generator interface {
	Generate(ctx context.Context, prompt string) ollama.Result
}

// Sender delivers a digest to one destination chat.
type Sender interface {
	SendDigest(ctx context.Context, chatID int64, text string) error
}

// Publisher is notified after each completed run.
type Publisher interface {
	PublishDigest(start, end time.Time, source ollama.Source, length int) error
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	Text         string // banner-prefixed digest, or NoMessagesText
	Source       ollama.Source
	MessageCount int
}

// Summarizer runs the digest pipeline. All triggers, scheduled and
// manual, funnel through the same mutual-exclusion point.
type Summarizer struct {
	store  store.Store
	roster *roster.Roster
	gen    Generator
	loc    *time.Location
	logger *slog.Logger

	sender       Sender
	destinations []int64
	pub          Publisher

	mu sync.Mutex // held for the whole run; TryLock rejects overlap

	stateMu    sync.Mutex
	lastRun    time.Time
	lastSource ollama.Source
}

func New(st store.Store, ros *roster.Roster, gen Generator, loc *time.Location, logger *slog.Logger) *Summarizer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		store:  st,
		roster: ros,
		gen:    gen,
		loc:    loc,
		logger: logger,
	}
}

// SetDelivery configures digest fan-out. Without it, Run still returns
// the digest but delivers nowhere.
func (s *Summarizer) SetDelivery(sender Sender, destinations []int64) {
	s.sender = sender
	s.destinations = destinations
}

// SetPublisher configures the post-run notification hook.
func (s *Summarizer) SetPublisher(pub Publisher) {
	s.pub = pub
}

// Run executes one pipeline pass over [start, end]. A run already in
// flight yields ErrBusy; an empty window yields ErrNoMessages with the
// explicit notice text. Store failures are returned as errors; callers
// decide how to surface them.
func (s *Summarizer) Run(ctx context.Context, start, end time.Time, kind Kind) (Outcome, error) {
	if !s.mu.TryLock() {
		return Outcome{}, ErrBusy
	}
	defer s.mu.Unlock()

	s.logger.Info("summary run starting", "kind", string(kind), "start", start, "end", end)

	byThread, err := s.store.Query(ctx, start, end)
	if err != nil {
		return Outcome{}, fmt.Errorf("query window: %w", err)
	}
	if len(byThread) == 0 {
		s.logger.Info("no messages in window", "kind", string(kind))
		return Outcome{Text: NoMessagesText}, ErrNoMessages
	}

	threads := aggregate.Group(byThread, s.roster.Members(), func(id int64) string {
		return s.store.ThreadTitle(ctx, id)
	}, s.loc)

	promptText := prompt.Build(threads, s.roster.Names())
	res := s.gen.Generate(ctx, promptText)

	out := Outcome{
		Text:         banner(kind) + "\n\n" + res.Text,
		Source:       res.Source,
		MessageCount: aggregate.MessageTotal(threads),
	}

	s.deliver(ctx, out.Text)

	s.stateMu.Lock()
	s.lastRun = end
	s.lastSource = res.Source
	s.stateMu.Unlock()

	if s.pub != nil {
		if err := s.pub.PublishDigest(start, end, res.Source, len(out.Text)); err != nil {
			s.logger.Warn("failed to publish digest event", "error", err)
		}
	}

	s.logger.Info("summary run complete",
		"kind", string(kind),
		"messages", out.MessageCount,
		"threads", len(threads),
		"source", string(res.Source),
	)
	return out, nil
}

// deliver sends the digest to every destination. One destination failing
// never blocks the others.
func (s *Summarizer) deliver(ctx context.Context, text string) {
	if s.sender == nil {
		return
	}
	for _, chatID := range s.destinations {
		if err := s.sender.SendDigest(ctx, chatID, text); err != nil {
			s.logger.Error("digest delivery failed", "chat_id", chatID, "error", err)
			continue
		}
		s.logger.Info("digest delivered", "chat_id", chatID)
	}
}

// LastRun reports the end timestamp and source of the most recent
// completed run.
func (s *Summarizer) LastRun() (time.Time, ollama.Source, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastRun, s.lastSource, !s.lastRun.IsZero()
}

func banner(kind Kind) string {
	if kind == KindScheduled {
		return bannerScheduled
	}
	return bannerManual
}
