package relay

import "sort"

// CountResult is the non-grouped COUNT payload.
type CountResult struct {
	Count int `json:"count"`
}

// CountEntry is one row of a grouped COUNT payload.
type CountEntry struct {
	Pubkey string `json:"pubkey"`
	Count  int    `json:"count"`
}

// countFilter answers one COUNT filter. Exactly one shape is supported:
// kind is the contact list and the filter references pubkeys. Everything
// else yields nil.
func (s *Server) countFilter(f *Filter) any {
	if len(f.Kinds) != 1 || f.Kinds[0] != KindContactList || len(f.Ptags) == 0 {
		return nil
	}

	if f.Group == "pubkey" {
		if len(f.Ptags) == 1 {
			followers := s.store.Followers(f.Ptags[0])
			out := make([]CountEntry, 0, len(followers))
			for _, fo := range followers {
				out = append(out, CountEntry{Pubkey: fo, Count: 1})
			}
			return out
		}
		// multiple referenced pubkeys: count, per follower, how many of
		// them it follows; rank rows by the follower's own follower count,
		// which is dropped from the output
		counts := map[string]int{}
		for _, pk := range f.Ptags {
			for _, fo := range s.store.Followers(pk) {
				counts[fo]++
			}
		}
		out := make([]CountEntry, 0, len(counts))
		for fo, n := range counts {
			out = append(out, CountEntry{Pubkey: fo, Count: n})
		}
		sort.SliceStable(out, func(i, j int) bool {
			ci := s.store.FollowerCount(out[i].Pubkey)
			cj := s.store.FollowerCount(out[j].Pubkey)
			if ci != cj {
				return ci > cj
			}
			return out[i].Pubkey < out[j].Pubkey
		})
		return out
	}

	sum := 0
	for _, pk := range f.Ptags {
		sum += s.store.FollowerCount(pk)
	}
	return CountResult{Count: sum}
}
