package archive

import (
	"path/filepath"
	"testing"
)

func TestArchiveLastWriteWins(t *testing.T) {
	if err := Open(filepath.Join(t.TempDir(), "archive")); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close()

	if err := SaveEvent(3, "pk1", 100, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// stale write is a no-op
	if err := SaveEvent(3, "pk1", 50, []byte(`{"v":0}`)); err != nil {
		t.Fatalf("stale save: %v", err)
	}
	// newer write replaces
	if err := SaveEvent(3, "pk1", 200, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("newer save: %v", err)
	}
	if err := SaveEvent(3, "pk2", 10, []byte(`{"v":3}`)); err != nil {
		t.Fatalf("save pk2: %v", err)
	}
	if err := SaveEvent(0, "pk1", 10, []byte(`{"v":4}`)); err != nil {
		t.Fatalf("save kind0: %v", err)
	}

	var got = map[string]int64{}
	err := ForEachKind(3, func(pubkey string, createdAt int64, raw []byte) error {
		got[pubkey] = createdAt
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != 2 || got["pk1"] != 200 || got["pk2"] != 10 {
		t.Fatalf("kind-3 rows = %v", got)
	}

	if n, err := CountKind(0); err != nil || n != 1 {
		t.Fatalf("kind-0 count = %d (%v)", n, err)
	}
}
