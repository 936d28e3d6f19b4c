// Package scheduler fires the digest pipeline once a day at a fixed
// wall-clock time in a fixed reference time zone, independent of the
// server's local zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Window is the trailing span summarized on each scheduled fire.
const Window = 24 * time.Hour

// RunFunc executes one pipeline pass over [start, end]. Implementations
// handle their own empty-window and busy cases; the scheduler only
// triggers.
type RunFunc func(ctx context.Context, start, end time.Time)

// Scheduler owns the daily cron entry.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	run    RunFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler firing daily at timeOfDay ("HH:MM") in the tz
// time zone (IANA name).
func New(timeOfDay, tz string, run RunFunc, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", tz, err)
	}
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		loc:    loc,
		run:    run,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), s.fire); err != nil {
		return nil, fmt.Errorf("register cron entry: %w", err)
	}
	return s, nil
}

// Start arms the timer. ctx bounds all fired runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started", "tz", s.loc.String())
}

// Stop disarms the timer and waits for a fire in progress to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// fire runs the pipeline over the trailing 24 hours ending now.
func (s *Scheduler) fire() {
	now := time.Now().In(s.loc)
	s.logger.Info("scheduled summary firing", "at", now)
	s.run(s.ctx, now.Add(-Window), now)
}

// parseTimeOfDay validates an "HH:MM" wall-clock time.
func parseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}
