package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New()
	relays := map[string]map[string]any{
		"wss://one.example": {"write": true},
		"wss://two.example": {"write": true, "read": true},
	}
	s.UpsertMetadata("pk1", 10, metadataEvent("pk1", "alice", "", 10))
	s.UpsertContacts("pk1", 11, contactsEvent("pk1", []string{"pk2"}, 11, relays))
	s.ObserveTimestamp("wss://src.example", 500)
	s.ObserveTimestamp("wss://src.example", 900)
	if _, _, ok := s.WriteRelaysFor("pk1"); ok {
		t.Fatalf("write relays present before extraction")
	}
	content, createdAt, _ := s.ContactContent("pk1")
	s.UpsertWriteRelays("pk1", createdAt, content)

	if err := s.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}

	s2 := New()
	if !s2.Load(dir) {
		t.Fatalf("load failed")
	}
	rec, ok := s2.MetadataFor("pk1")
	if !ok || rec.CreatedAt != 10 {
		t.Fatalf("metadata not restored: %+v", rec)
	}
	orig, _ := s.MetadataFor("pk1")
	if !bytes.Equal(rec.Raw, orig.Raw) {
		t.Fatalf("metadata raw mismatch")
	}
	if _, ok := s2.ContactsFor("pk1"); !ok {
		t.Fatalf("contacts not restored")
	}
	urls, _, ok := s2.WriteRelaysFor("pk1")
	if !ok || len(urls) != 2 {
		t.Fatalf("write relays not re-derived: %v", urls)
	}
	if got := s2.ResumePoint("wss://src.example"); got != 900 {
		t.Fatalf("watermark not restored: %d", got)
	}
	if got := s2.RelayNames(); len(got) != len(s.RelayNames()) {
		t.Fatalf("relay table not restored: %v", got)
	}
}

func TestLoadMissingMeansEmpty(t *testing.T) {
	s := New()
	if s.Load(filepath.Join(t.TempDir(), "nope")) {
		t.Fatalf("load of missing dir reported success")
	}
	m, c, _, _ := s.Counts()
	if m != 0 || c != 0 {
		t.Fatalf("store not empty after failed load")
	}
}

func TestLoadCorruptRecordsMeansEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.UpsertMetadata("pk1", 1, metadataEvent("pk1", "x", "", 1))
	if err := s.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	// corrupt the metadata record file
	if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	s2 := New()
	if s2.Load(dir) {
		t.Fatalf("load of corrupt snapshot reported success")
	}
}

func TestSaveTwiceGrowsOrKeeps(t *testing.T) {
	dir := t.TempDir()
	s := New()
	s.UpsertMetadata("pk1", 1, metadataEvent("pk1", "alice", "", 1))
	if err := s.Save(dir); err != nil {
		t.Fatalf("first save: %v", err)
	}
	s.UpsertMetadata("pk2", 1, metadataEvent("pk2", "bob", "", 1))
	if err := s.Save(dir); err != nil {
		t.Fatalf("second save: %v", err)
	}
}
