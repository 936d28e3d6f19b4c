// Package prompt renders an aggregation result into the single text
// request sent to the generation backend.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kavehm/digestbot/internal/aggregate"
	"github.com/kavehm/digestbot/internal/store"
)

const singleThreadPreamble = `These are chat messages from a Telegram group.

For each member of the group:

- If they spoke in the chat, summarize their messages.
- If they didn't speak, write: 'Did not participate.'

Group members: %s

`

const multiThreadPreamble = `These are categorized chat messages from a Telegram group.

For each topic, list all group members by name. For each member:

- If they spoke in that topic, summarize their message.
- If they didn't speak, write: 'Did not participate.'

Group members: %s

`

// Build renders the prompt. The simpler single-thread shape is used only
// when exactly one thread is populated and it is the main conversation;
// everything else gets titled topic sections. Both shapes embed the full
// roster so the backend accounts for silent members.
func Build(threads []aggregate.ThreadActivity, rosterNames []string) string {
	memberList := strings.Join(rosterNames, ", ")

	sections := make([]string, 0, len(threads))
	for _, t := range threads {
		sections = append(sections, renderSection(t))
	}

	if len(threads) == 1 && threads[0].ThreadID == store.DefaultThreadID {
		return fmt.Sprintf(singleThreadPreamble, memberList) + sections[0]
	}
	return fmt.Sprintf(multiThreadPreamble, memberList) + strings.Join(sections, "\n")
}

func renderSection(t aggregate.ThreadActivity) string {
	blocks := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p.MessageCount > 0 {
			blocks = append(blocks, p.Name+":\n"+p.Transcript)
		} else {
			blocks = append(blocks, p.Name+": "+p.Transcript)
		}
	}
	return fmt.Sprintf("[Topic: %s]\nMessages:\n%s", t.Title, strings.Join(blocks, "\n\n"))
}
