package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/snapshot"
)

// Snapshot file names under the snapshot directory.
const (
	stateFile    = "state.json"
	metadataFile = "metadata.records"
	contactsFile = "contacts.records"
)

// stateDoc is the small JSON document holding everything that is not a
// record map: the relay name table and the per-source watermarks.
type stateDoc struct {
	Relays     []string              `json:"relays"`
	Watermarks map[string]*Watermark `json:"watermarks"`
}

// recordValue is the persisted form of one Record inside a codec entry.
type recordValue struct {
	CreatedAt int64           `json:"created_at"`
	Raw       json.RawMessage `json:"raw"`
}

// Save persists the store under dir: the state JSON document plus the two
// length-prefixed record files. Record files are written to a temp path and
// atomically swapped in, refusing to replace a larger predecessor. The read
// of the store happens under the read lock, so the single writer is paused
// for the duration of serialization but not for the disk writes.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	s.mu.RLock()
	doc := stateDoc{
		Relays:     append([]string(nil), s.relayNames...),
		Watermarks: map[string]*Watermark{},
	}
	for src, m := range s.marks {
		cp := Watermark{Oldest: m.Oldest, Recent: append([]int64(nil), m.Recent...)}
		doc.Watermarks[src] = &cp
	}
	meta := recordEntries(s.metadata)
	contacts := recordEntries(s.contacts)
	s.mu.RUnlock()

	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	statePath := filepath.Join(dir, stateFile)
	if err := os.WriteFile(statePath+".tmp", b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(statePath+".tmp", statePath); err != nil {
		return err
	}

	for _, f := range []struct {
		name    string
		entries []snapshot.Entry
	}{
		{metadataFile, meta},
		{contactsFile, contacts},
	} {
		dst := filepath.Join(dir, f.name)
		tmp := dst + ".tmp"
		if err := snapshot.WriteEntries(tmp, f.entries); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		if err := snapshot.Replace(tmp, dst); err != nil {
			return fmt.Errorf("replace %s: %w", f.name, err)
		}
	}
	logger.Info("snapshot_saved", "dir", dir, "metadata", len(meta), "contacts", len(contacts))
	return nil
}

func recordEntries(m map[string]Record) []snapshot.Entry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]snapshot.Entry, 0, len(keys))
	for _, k := range keys {
		rec := m[k]
		v, _ := json.Marshal(recordValue{CreatedAt: rec.CreatedAt, Raw: rec.Raw})
		out = append(out, snapshot.Entry{Key: k, Value: v})
	}
	return out
}

// Load restores the store from dir. A failure to load any of the three files
// means "no prior state": the store stays empty and Load returns false
// rather than an error. Derived indices are not rebuilt here; callers
// rebuild after the bulk load.
func (s *Store) Load(dir string) bool {
	b, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		logger.Info("snapshot_absent", "dir", dir, "error", err)
		return false
	}
	var doc stateDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		logger.Warn("snapshot_state_unreadable", "dir", dir, "error", err)
		return false
	}

	meta := map[string]Record{}
	if !loadRecords(filepath.Join(dir, metadataFile), meta) {
		return false
	}
	contacts := map[string]Record{}
	if !loadRecords(filepath.Join(dir, contactsFile), contacts) {
		return false
	}

	s.mu.Lock()
	s.relayNames = append([]string(nil), doc.Relays...)
	s.relayIndex = make(map[string]int, len(s.relayNames))
	for i, u := range s.relayNames {
		s.relayIndex[u] = i
	}
	s.marks = map[string]*Watermark{}
	for src, m := range doc.Watermarks {
		if m != nil {
			s.marks[src] = m
		}
	}
	s.metadata = meta
	s.contacts = contacts
	s.mu.Unlock()

	// write-relay records are derived, not persisted; re-derive them from
	// the freshly loaded contact lists
	for pk := range contacts {
		if content, createdAt, ok := s.ContactContent(pk); ok {
			s.UpsertWriteRelays(pk, createdAt, content)
		}
	}
	logger.Info("snapshot_loaded", "dir", dir, "metadata", len(meta), "contacts", len(contacts), "relays", len(doc.Relays))
	return true
}

func loadRecords(path string, dst map[string]Record) bool {
	err := snapshot.ReadEntries(path, func(e snapshot.Entry) error {
		var v recordValue
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return err
		}
		dst[e.Key] = Record{CreatedAt: v.CreatedAt, Raw: v.Raw}
		return nil
	})
	if err != nil {
		logger.Warn("snapshot_records_unreadable", "path", path, "error", err)
		return false
	}
	return true
}
