package store

import (
	"encoding/json"
	"sort"
	"strings"
)

// RebuildFollowerGraph rebuilds the follower graph from scratch by inverting
// every contact list's "p" tags. The graph is a snapshot of the contact
// records at the moment of the rebuild, not a continuously maintained view;
// callers rebuild after bulk loads.
//
// The build is two passes: first populate adjacency, then sort each follower
// list by the follower's own follower count, which is only known once pass
// one is complete. Malformed contact records are skipped.
func (s *Store) RebuildFollowerGraph() {
	s.mu.Lock()
	defer s.mu.Unlock()

	graph := make(map[string][]string, len(s.contacts))
	for follower, rec := range s.contacts {
		var ev eventEnvelope
		if err := json.Unmarshal(rec.Raw, &ev); err != nil {
			continue
		}
		seen := map[string]struct{}{}
		for _, tag := range ev.Tags {
			if len(tag) < 2 || !strings.EqualFold(tag[0], "p") {
				continue
			}
			followed := strings.ToLower(tag[1])
			if followed == "" {
				continue
			}
			if _, dup := seen[followed]; dup {
				continue
			}
			seen[followed] = struct{}{}
			graph[followed] = append(graph[followed], follower)
		}
	}

	for _, list := range graph {
		sort.SliceStable(list, func(i, j int) bool {
			return len(graph[list[i]]) > len(graph[list[j]])
		})
	}
	s.followers = graph
}

// Followers returns the pubkey's followers, ranked by each follower's own
// follower count descending, as of the last graph rebuild.
func (s *Store) Followers(pubkey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.followers[pubkey]...)
}

// FollowerCount returns the number of followers of pubkey as of the last
// graph rebuild.
func (s *Store) FollowerCount(pubkey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.followers[pubkey])
}
