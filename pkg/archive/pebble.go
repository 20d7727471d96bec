// Package archive keeps a durable copy of every accepted profile and
// contact-list event in a local Pebble database. It is a side store, not an
// index: at startup its contact records are bulk-merged into the in-memory
// store, so a deleted or shrunk snapshot does not lose history that was
// already ingested.
package archive

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"nostrgraph/pkg/logger"
)

var db *pebble.DB

// Open opens (or creates) the archive at the given path and keeps a global
// handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_archive", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("archive_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened archive if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("archive_closed")
	return nil
}

// Ready reports whether the archive is opened.
func Ready() bool {
	return db != nil
}

func key(kind int, pubkey string) []byte {
	return []byte(fmt.Sprintf("ev:%d:%s", kind, pubkey))
}

// stored wraps a raw event with the timestamp that decides replacement.
type stored struct {
	CreatedAt int64           `json:"created_at"`
	Raw       json.RawMessage `json:"raw"`
}

// SaveEvent stores raw under (kind, pubkey), replacing an existing entry
// only when createdAt is strictly newer. The archive applies the same
// last-write-wins rule as the in-memory store so a replay never resurrects
// stale data.
func SaveEvent(kind int, pubkey string, createdAt int64, raw []byte) error {
	if db == nil {
		return fmt.Errorf("archive not opened; call archive.Open first")
	}
	k := key(kind, pubkey)
	if cur, closer, err := db.Get(k); err == nil {
		var st stored
		uerr := json.Unmarshal(cur, &st)
		closer.Close()
		if uerr == nil && createdAt <= st.CreatedAt {
			return nil
		}
	} else if err != pebble.ErrNotFound {
		return err
	}
	v, err := json.Marshal(stored{CreatedAt: createdAt, Raw: raw})
	if err != nil {
		return err
	}
	if err := db.Set(k, v, pebble.NoSync); err != nil {
		logger.Error("archive_save_failed", "pubkey", pubkey, "kind", kind, "error", err)
		return err
	}
	return nil
}

// ForEachKind streams every stored event of the given kind through fn.
func ForEachKind(kind int, fn func(pubkey string, createdAt int64, raw []byte) error) error {
	if db == nil {
		return fmt.Errorf("archive not opened; call archive.Open first")
	}
	prefix := []byte(fmt.Sprintf("ev:%d:", kind))
	upper := append(append([]byte(nil), prefix...), 0xff)
	it, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		pubkey := string(it.Key()[len(prefix):])
		var st stored
		if err := json.Unmarshal(it.Value(), &st); err != nil {
			// one bad row never stops the merge
			logger.Warn("archive_row_unreadable", "pubkey", pubkey, "error", err)
			continue
		}
		if err := fn(pubkey, st.CreatedAt, st.Raw); err != nil {
			return err
		}
	}
	return it.Error()
}

// CountKind returns the number of stored events of the given kind.
func CountKind(kind int) (int, error) {
	n := 0
	err := ForEachKind(kind, func(string, int64, []byte) error {
		n++
		return nil
	})
	return n, err
}
