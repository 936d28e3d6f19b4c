// Package aggregate turns a time-windowed query result into ordered
// per-thread, per-participant transcripts ready for prompt assembly.
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kavehm/digestbot/internal/roster"
	"github.com/kavehm/digestbot/internal/store"
)

// NoActivity is the transcript for a roster member who did not speak in
// the window.
const NoActivity = "No messages in this timeframe."

// ParticipantActivity is one participant's rendered transcript within a
// thread. MessageCount zero means the transcript is the NoActivity
// sentinel.
type ParticipantActivity struct {
	ID           int64
	Name         string
	Transcript   string
	MessageCount int
}

// ThreadActivity is one thread's worth of per-participant transcripts.
// Participants appear in roster order; unknown senders follow in
// first-seen order.
type ThreadActivity struct {
	ThreadID     int64
	Title        string
	Participants []ParticipantActivity
}

// TitleLookup resolves a thread id to its display title.
type TitleLookup func(threadID int64) string

// Group builds the aggregation for one query result. Every roster member
// gets a bucket in every thread, spoken or not; senders outside the
// roster get an ad-hoc bucket under their own display name. Threads are
// ordered by ascending id, so the default thread leads. Timestamps are
// rendered in loc.
func Group(byThread map[int64][]store.Message, members []roster.Member, titles TitleLookup, loc *time.Location) []ThreadActivity {
	if loc == nil {
		loc = time.UTC
	}

	threadIDs := make([]int64, 0, len(byThread))
	for id := range byThread {
		threadIDs = append(threadIDs, id)
	}
	sort.Slice(threadIDs, func(i, j int) bool { return threadIDs[i] < threadIDs[j] })

	result := make([]ThreadActivity, 0, len(threadIDs))
	for _, threadID := range threadIDs {
		msgs := byThread[threadID]

		buckets := make(map[int64][]store.Message, len(members))
		order := make([]roster.Member, 0, len(members))
		for _, m := range members {
			buckets[m.ID] = nil
			order = append(order, m)
		}
		for _, msg := range msgs {
			if _, known := buckets[msg.ParticipantID]; !known {
				// Unknown sender: report under their own name, never
				// merge or drop.
				order = append(order, roster.Member{ID: msg.ParticipantID, Name: msg.DisplayName})
			}
			buckets[msg.ParticipantID] = append(buckets[msg.ParticipantID], msg)
		}

		participants := make([]ParticipantActivity, 0, len(order))
		for _, m := range order {
			bucket := buckets[m.ID]
			participants = append(participants, ParticipantActivity{
				ID:           m.ID,
				Name:         m.Name,
				Transcript:   renderTranscript(bucket, loc),
				MessageCount: len(bucket),
			})
		}

		result = append(result, ThreadActivity{
			ThreadID:     threadID,
			Title:        titles(threadID),
			Participants: participants,
		})
	}
	return result
}

func renderTranscript(msgs []store.Message, loc *time.Location) string {
	if len(msgs) == 0 {
		return NoActivity
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = fmt.Sprintf("[%s]: %s", m.SentAt.In(loc).Format("15:04"), m.Text)
	}
	return strings.Join(lines, "\n")
}

// MessageTotal counts the messages across all threads of an aggregation.
func MessageTotal(threads []ThreadActivity) int {
	total := 0
	for _, t := range threads {
		for _, p := range t.Participants {
			total += p.MessageCount
		}
	}
	return total
}
