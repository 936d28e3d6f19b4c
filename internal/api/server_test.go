package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kavehm/digestbot/internal/ollama"
	"github.com/kavehm/digestbot/internal/store"
	"github.com/kavehm/digestbot/internal/summarizer"
)

type stubStore struct {
	count    int
	countErr error
}

func (s *stubStore) Append(ctx context.Context, m store.Message, title string) (int, error) {
	return 0, nil
}

func (s *stubStore) Query(ctx context.Context, start, end time.Time) (map[int64][]store.Message, error) {
	return nil, nil
}

func (s *stubStore) ThreadTitle(ctx context.Context, threadID int64) string {
	return store.PlaceholderTitle(threadID)
}

func (s *stubStore) Count(ctx context.Context) (int, error) { return s.count, s.countErr }
func (s *stubStore) Close()                                 {}

type stubPipeline struct {
	outcome summarizer.Outcome
	err     error
	lastRun time.Time
	source  ollama.Source
	runCtx  context.Context
}

func (p *stubPipeline) Run(ctx context.Context, start, end time.Time, kind summarizer.Kind) (summarizer.Outcome, error) {
	p.runCtx = ctx
	return p.outcome, p.err
}

func (p *stubPipeline) LastRun() (time.Time, ollama.Source, bool) {
	return p.lastRun, p.source, !p.lastRun.IsZero()
}

func newTestServer(st store.Store, p Pipeline, token string) *Server {
	return NewServer(context.Background(), 0, token, st, p, time.UTC, nil)
}

func doRequest(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubPipeline{}, "")

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	last := time.Date(2025, 6, 1, 23, 55, 0, 0, time.UTC)
	s := newTestServer(&stubStore{count: 17}, &stubPipeline{lastRun: last, source: ollama.SourceModel}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp.Messages != 17 || resp.LastRun != "2025-06-01T23:55:00Z" || resp.LastSource != string(ollama.SourceModel) {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestStatus_NoRunsYet(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubPipeline{}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp.LastRun != "" {
		t.Errorf("expected no last_run before the first run, got %q", resp.LastRun)
	}
}

func TestTriggerSummary(t *testing.T) {
	p := &stubPipeline{outcome: summarizer.Outcome{
		Text:         "📊 Summary of the last 24 hours:\n\nquiet day",
		Source:       ollama.SourceModel,
		MessageCount: 4,
	}}
	s := newTestServer(&stubStore{}, p, "")

	rec := doRequest(t, s, http.MethodPost, "/api/v1/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp summaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if resp.MessageCount != 4 || !strings.Contains(resp.Text, "quiet day") {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestTriggerSummary_Busy(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubPipeline{err: summarizer.ErrBusy}, "")

	rec := doRequest(t, s, http.MethodPost, "/api/v1/summary", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a run is in flight, got %d", rec.Code)
	}
}

func TestTriggerSummary_SurvivesClientDisconnect(t *testing.T) {
	p := &stubPipeline{outcome: summarizer.Outcome{Text: "digest"}}
	s := newTestServer(&stubStore{}, p, "")

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/summary", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if p.runCtx == nil {
		t.Fatal("pipeline was not run")
	}
	if p.runCtx.Err() != nil {
		t.Error("run context must not carry the request's cancellation")
	}
}

func TestTriggerSummary_NoMessages(t *testing.T) {
	p := &stubPipeline{
		outcome: summarizer.Outcome{Text: summarizer.NoMessagesText},
		err:     summarizer.ErrNoMessages,
	}
	s := newTestServer(&stubStore{}, p, "")

	rec := doRequest(t, s, http.MethodPost, "/api/v1/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), summarizer.NoMessagesText) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(&stubStore{}, &stubPipeline{}, "sekrit")

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "sekrit"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", rec.Code)
	}
}
