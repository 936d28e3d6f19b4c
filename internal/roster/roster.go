// Package roster holds the pre-seeded set of known participants. The
// roster is loaded once at startup and read-only during pipeline runs;
// Reload is the only mutation point and is serialized.
package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
)

// Member is one known participant.
type Member struct {
	ID   int64
	Name string
}

// Roster is the participant registry. Members are ordered by ascending id
// so that digests list people deterministically.
type Roster struct {
	mu      sync.RWMutex
	path    string
	members []Member
}

// Load reads the roster file: a JSON object mapping participant-id strings
// to display names, e.g. {"1": "Alice", "2": "Bob"}.
func Load(path string) (*Roster, error) {
	r := &Roster{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roster file. On failure the previous roster is kept.
func (r *Roster) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read roster file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse roster file: %w", err)
	}

	members := make([]Member, 0, len(raw))
	for idStr, name := range raw {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid participant id %q: %w", idStr, err)
		}
		members = append(members, Member{ID: id, Name: name})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	r.mu.Lock()
	r.members = members
	r.mu.Unlock()
	return nil
}

// Members returns a snapshot of the roster in id order.
func (r *Roster) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// Names returns the display names in roster order.
func (r *Roster) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.members))
	for i, m := range r.members {
		names[i] = m.Name
	}
	return names
}

// Len returns the number of known participants.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
