package store

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultSearchLimit is the result bound applied when a caller passes a
// non-positive limit to SearchByPrefix.
const DefaultSearchLimit = 5

// MaxSearchLimit caps the working-set size regardless of the requested
// limit, so untrusted limits cannot drive the allocation below.
const MaxSearchLimit = 1000

type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// RebuildAuthorSearchIndex rebuilds the name search index from the metadata
// records. Each pubkey contributes its name, its display name when distinct
// from the name, and the part of the display name after its first space when
// distinct again; all lowercased and paired with the pubkey's follower count
// as of the current graph. The index is sorted by name ascending with ties
// left in insertion order, so rebuild over sorted pubkeys for determinism.
func (s *Store) RebuildAuthorSearchIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pubkeys := make([]string, 0, len(s.metadata))
	for pk := range s.metadata {
		pubkeys = append(pubkeys, pk)
	}
	sort.Strings(pubkeys)

	index := make([]SearchEntry, 0, len(pubkeys))
	for _, pk := range pubkeys {
		var ev eventEnvelope
		if err := json.Unmarshal(s.metadata[pk].Raw, &ev); err != nil {
			continue
		}
		var prof profileContent
		if err := json.Unmarshal([]byte(ev.Content), &prof); err != nil {
			continue
		}
		followers := len(s.followers[pk])

		name := strings.ToLower(prof.Name)
		if name != "" {
			index = append(index, SearchEntry{Name: name, Pubkey: pk, Followers: followers})
		}
		display := strings.ToLower(prof.DisplayName)
		if display != "" && display != name {
			index = append(index, SearchEntry{Name: display, Pubkey: pk, Followers: followers})
			if i := strings.Index(display, " "); i >= 0 {
				tail := display[i+1:]
				if tail != "" && tail != name && tail != display {
					index = append(index, SearchEntry{Name: tail, Pubkey: pk, Followers: followers})
				}
			}
		}
	}

	sort.SliceStable(index, func(i, j int) bool { return index[i].Name < index[j].Name })
	s.search = index
}

// SearchByPrefix returns up to limit entries whose name starts with query,
// ranked by follower count descending, with no duplicate pubkeys.
//
// The scan walks the whole matching run but keeps a working set of at most
// limit entries, admitting a candidate only when there is room or its
// follower count beats the current minimum, which is then evicted. The
// minimum is recomputed at comparison time rather than maintained exactly,
// so the result is a best-effort top-K, not a globally exact one. That
// looser guarantee is deliberate; do not tighten it.
func (s *Store) SearchByPrefix(query string, limit int) []SearchEntry {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	q := strings.ToLower(query)
	if q == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// sort.Search lands on the first entry >= q, which is also the first
	// possible prefix match.
	pos := sort.Search(len(s.search), func(i int) bool { return s.search[i].Name >= q })
	if pos >= len(s.search) || !strings.HasPrefix(s.search[pos].Name, q) {
		return nil
	}

	working := make([]SearchEntry, 0, limit)
	for i := pos; i < len(s.search) && strings.HasPrefix(s.search[i].Name, q); i++ {
		cand := s.search[i]
		dup := false
		for _, w := range working {
			if w.Pubkey == cand.Pubkey {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if len(working) < limit {
			working = append(working, cand)
			continue
		}
		min := 0
		for j := 1; j < len(working); j++ {
			if working[j].Followers < working[min].Followers {
				min = j
			}
		}
		if cand.Followers > working[min].Followers {
			working[min] = cand
		}
	}

	sort.SliceStable(working, func(i, j int) bool { return working[i].Followers > working[j].Followers })
	return working
}
