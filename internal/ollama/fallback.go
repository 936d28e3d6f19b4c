package ollama

import (
	"fmt"
	"strings"
)

const membersMarker = "Group members:"

// FallbackSummary derives a digest from the prompt text alone, without any
// backend call. It is intentionally coarse: the message total is the count
// of timestamp-bracket markers, and a participant counts as having spoken
// when a transcript block under their name appears after the roster line.
// A bare name match would false-positive on the "Name: No messages in this
// timeframe." sentinel that silent members get.
func FallbackSummary(prompt string) string {
	var lines []string
	lines = append(lines, "⚠️ AI Summary unavailable - Simple analysis instead:")
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Total messages: %d", strings.Count(prompt, "[")))

	members, rest := parseMembers(prompt)
	if len(members) > 0 {
		lines = append(lines, "")
		lines = append(lines, "Participants:")
		for _, member := range members {
			if strings.Contains(rest, member+":\n[") {
				lines = append(lines, fmt.Sprintf("- %s: Sent messages", member))
			} else {
				lines = append(lines, fmt.Sprintf("- %s: Did not participate", member))
			}
		}
	}

	return strings.Join(lines, "\n")
}

// parseMembers reads the comma-joined roster off the "Group members:" line
// and returns it together with the remainder of the prompt, so that the
// roster line itself does not count as participation.
func parseMembers(prompt string) ([]string, string) {
	idx := strings.Index(prompt, membersMarker)
	if idx < 0 {
		return nil, prompt
	}
	after := prompt[idx+len(membersMarker):]

	line := after
	rest := ""
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		line = after[:nl]
		rest = after[nl+1:]
	}

	var members []string
	for _, m := range strings.Split(line, ",") {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}
	return members, rest
}
