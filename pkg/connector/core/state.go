package core

import (
	"bytes"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
)

// BookmarkLayout is the format of every bookmark value
const BookmarkLayout = "2006-01-02"

// StateSnapshot is the serializable form of State: stream -> entity ID -> date
type StateSnapshot map[string]map[string]string

// State holds per-entity bookmarks for every stream. It is safe for
// concurrent use; the sync engine itself is sequential.
type State struct {
	mu        sync.RWMutex
	bookmarks StateSnapshot
}

// NewState returns an empty state
func NewState() *State {
	return &State{bookmarks: make(StateSnapshot)}
}

// StateFromSnapshot builds a state from a previously emitted snapshot
func StateFromSnapshot(snapshot StateSnapshot) *State {
	s := NewState()
	for stream, entries := range snapshot {
		if len(entries) == 0 {
			continue
		}
		m := make(map[string]string, len(entries))
		for k, v := range entries {
			m[k] = v
		}
		s.bookmarks[stream] = m
	}
	return s
}

// LoadState reads a state JSON document from r. An empty document yields an
// empty state. Top-level entries that are not objects of strings are
// rejected because a misread bookmark would silently resync or skip data.
func LoadState(r io.Reader) (*State, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewState(), nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "state is not a JSON object")
	}

	snapshot := make(StateSnapshot, len(raw))
	for stream, v := range raw {
		entries, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "state entry %q is not an object", stream)
		}
		m := make(map[string]string, len(entries))
		for id, date := range entries {
			str, ok := date.(string)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeConfig, "bookmark %s/%s is not a string", stream, id)
			}
			m[id] = str
		}
		snapshot[stream] = m
	}
	return StateFromSnapshot(snapshot), nil
}

// LoadStateFile reads state from path
func LoadStateFile(path string) (*State, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open state file").
			WithDetail("path", path)
	}
	defer f.Close()
	return LoadState(f)
}

// Bookmark returns the stored date for stream/key
func (s *State) Bookmark(stream, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.bookmarks[stream][key]
	return v, ok && v != ""
}

// AdvanceBookmark records date for stream/key unless an equal or later date
// is already stored. It reports whether the bookmark moved. Dates compare
// lexically, which matches chronological order for BookmarkLayout.
func (s *State) AdvanceBookmark(stream, key, date string) bool {
	if date == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.bookmarks[stream]
	if !ok {
		entries = make(map[string]string)
		s.bookmarks[stream] = entries
	}
	if current, ok := entries[key]; ok && current >= date {
		return false
	}
	entries[key] = date
	return true
}

// Snapshot returns a deep copy safe to serialize while syncing continues
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(StateSnapshot, len(s.bookmarks))
	for stream, entries := range s.bookmarks {
		m := make(map[string]string, len(entries))
		for k, v := range entries {
			m[k] = v
		}
		out[stream] = m
	}
	return out
}

// Streams returns the stream names that hold bookmarks, sorted
func (s *State) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.bookmarks))
	for name := range s.bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
