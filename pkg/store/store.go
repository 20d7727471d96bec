// Package store holds the in-memory indices the whole service is built
// around: latest-per-pubkey metadata and contact records, the derived
// write-relay lists, the follower graph and the author search index.
//
// The store is a single injected value, not package state. All mutation goes
// through one writer (the ingest pipeline); reads may run concurrently and
// tolerate a slightly stale but internally consistent view, because records
// are replaced atomically and never mutated in place.
package store

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Record is the latest accepted event for one pubkey, kept in its raw
// serialized form together with the event timestamp that won it the slot.
type Record struct {
	CreatedAt int64
	Raw       json.RawMessage
}

// RelayList is a derived write-relay record. Relays holds indices into the
// relay name table rather than URLs, so thousands of pubkeys pointing at the
// same relay do not duplicate the string.
type RelayList struct {
	CreatedAt int64
	Relays    []int
}

// SearchEntry is one (name, pubkey, followerCount) triple of the author
// search index. Names are stored lowercased.
type SearchEntry struct {
	Name      string
	Pubkey    string
	Followers int
}

// Store owns every index. Mutations must come from a single writer; see the
// package comment.
type Store struct {
	mu sync.RWMutex

	metadata    map[string]Record
	contacts    map[string]Record
	writeRelays map[string]RelayList

	// relayNames is append-only; a URL's position is its stable index.
	relayNames []string
	relayIndex map[string]int

	followers map[string][]string
	search    []SearchEntry

	marks map[string]*Watermark
}

// New returns an empty store.
func New() *Store {
	return &Store{
		metadata:    map[string]Record{},
		contacts:    map[string]Record{},
		writeRelays: map[string]RelayList{},
		relayIndex:  map[string]int{},
		followers:   map[string][]string{},
		marks:       map[string]*Watermark{},
	}
}

// UpsertMetadata stores raw as the pubkey's metadata record if createdAt is
// strictly newer than the stored one. Returns whether the record changed;
// stale updates are a no-op, not an error.
func (s *Store) UpsertMetadata(pubkey string, createdAt int64, raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.metadata[pubkey]; ok && createdAt <= cur.CreatedAt {
		return false
	}
	s.metadata[pubkey] = Record{CreatedAt: createdAt, Raw: append(json.RawMessage(nil), raw...)}
	return true
}

// UpsertContacts stores raw as the pubkey's contact-list record under the
// same last-write-wins rule as UpsertMetadata.
func (s *Store) UpsertContacts(pubkey string, createdAt int64, raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.contacts[pubkey]; ok && createdAt <= cur.CreatedAt {
		return false
	}
	s.contacts[pubkey] = Record{CreatedAt: createdAt, Raw: append(json.RawMessage(nil), raw...)}
	return true
}

// relayFlags mirrors the per-relay object inside a kind-3 content document.
// The flags are loosely typed in the wild (bools, numbers, strings).
type relayFlags struct {
	Read  any `json:"read"`
	Write any `json:"write"`
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// UpsertWriteRelays derives a write-relay record from a kind-3 content
// document: entries whose "write" flag is truthy are kept, their URLs
// interned into the relay table. Last-write-wins by createdAt, same as the
// other upserts. Malformed content is ignored.
func (s *Store) UpsertWriteRelays(pubkey string, createdAt int64, contactsContent []byte) bool {
	var entries map[string]relayFlags
	if err := json.Unmarshal(contactsContent, &entries); err != nil {
		return false
	}
	urls := make([]string, 0, len(entries))
	for url, flags := range entries {
		if truthy(flags.Write) {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.writeRelays[pubkey]; ok && createdAt <= cur.CreatedAt {
		return false
	}
	idx := make([]int, 0, len(urls))
	for _, u := range urls {
		idx = append(idx, s.internRelayLocked(u))
	}
	s.writeRelays[pubkey] = RelayList{CreatedAt: createdAt, Relays: idx}
	return true
}

func (s *Store) internRelayLocked(url string) int {
	if i, ok := s.relayIndex[url]; ok {
		return i
	}
	i := len(s.relayNames)
	s.relayNames = append(s.relayNames, url)
	s.relayIndex[url] = i
	return i
}

// MetadataFor returns the pubkey's current metadata record.
func (s *Store) MetadataFor(pubkey string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.metadata[pubkey]
	return r, ok
}

// ContactsFor returns the pubkey's current contact-list record.
func (s *Store) ContactsFor(pubkey string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.contacts[pubkey]
	return r, ok
}

// WriteRelaysFor resolves the pubkey's write-relay record back to URLs.
func (s *Store) WriteRelaysFor(pubkey string) ([]string, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rl, ok := s.writeRelays[pubkey]
	if !ok {
		return nil, 0, false
	}
	urls := make([]string, 0, len(rl.Relays))
	for _, i := range rl.Relays {
		urls = append(urls, s.relayNames[i])
	}
	return urls, rl.CreatedAt, true
}

// RelayNames returns a copy of the relay name table.
func (s *Store) RelayNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.relayNames...)
}

// Counts returns the sizes of the principal indices, for the stats surface.
func (s *Store) Counts() (metadata, contacts, relays, graphed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metadata), len(s.contacts), len(s.relayNames), len(s.followers)
}

// AllPubkeys returns every pubkey with either a metadata or a contacts
// record, sorted. Used by administratively enabled global subscriptions.
func (s *Store) AllPubkeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.metadata)+len(s.contacts))
	for pk := range s.metadata {
		set[pk] = struct{}{}
	}
	for pk := range s.contacts {
		set[pk] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for pk := range set {
		out = append(out, pk)
	}
	sort.Strings(out)
	return out
}

// eventEnvelope is the subset of a serialized event the rebuilds need.
type eventEnvelope struct {
	Tags    [][]string `json:"tags"`
	Content string     `json:"content"`
}

// FollowingOf parses the pubkey's contact list and returns the pubkeys it
// follows, ranked by their follower count descending.
func (s *Store) FollowingOf(pubkey string) []string {
	s.mu.RLock()
	rec, ok := s.contacts[pubkey]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	var ev eventEnvelope
	if err := json.Unmarshal(rec.Raw, &ev); err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && strings.EqualFold(tag[0], "p") {
			pk := strings.ToLower(tag[1])
			if _, dup := seen[pk]; dup {
				continue
			}
			seen[pk] = struct{}{}
			out = append(out, pk)
		}
	}
	s.mu.RLock()
	counts := make(map[string]int, len(out))
	for _, pk := range out {
		counts[pk] = len(s.followers[pk])
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i]] > counts[out[j]]
	})
	return out
}

// ContactContent returns the raw content document of the pubkey's contact
// list, for re-deriving write relays after a bulk load.
func (s *Store) ContactContent(pubkey string) ([]byte, int64, bool) {
	s.mu.RLock()
	rec, ok := s.contacts[pubkey]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, false
	}
	var ev eventEnvelope
	if err := json.Unmarshal(rec.Raw, &ev); err != nil {
		return nil, 0, false
	}
	return []byte(ev.Content), rec.CreatedAt, true
}
