// Package selection filters resolved sessions by the student's checkbox
// choices before calendar generation.
package selection

import "unmcal/internal/model"

// State maps a session key (model.SessionRecord.Key) to an include flag.
// A key that is absent is included, so an untouched selection yields the
// full timetable.
type State map[string]bool

// Exclude returns a State that excludes exactly the given keys.
func Exclude(keys []string) State {
	s := make(State, len(keys))
	for _, k := range keys {
		s[k] = false
	}
	return s
}

// Include reports whether the session with the given key passes the filter.
func (s State) Include(key string) bool {
	if s == nil {
		return true
	}
	include, ok := s[key]
	return !ok || include
}

// Filter returns the subsequence of occurrences whose session keys pass the
// filter, preserving order. Filtering an already-filtered slice with the
// same state returns it unchanged.
func (s State) Filter(occurrences []model.ResolvedOccurrence) []model.ResolvedOccurrence {
	out := make([]model.ResolvedOccurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		if s.Include(occ.Record.Key()) {
			out = append(out, occ)
		}
	}
	return out
}
