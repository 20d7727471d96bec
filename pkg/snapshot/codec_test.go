package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mkEntries(n int) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		v, _ := json.Marshal(map[string]int{"seq": i})
		out = append(out, Entry{Key: fmt.Sprintf("key-%04d", i), Value: v})
	}
	return out
}

func TestRoundTripBlockBoundaries(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101} {
		path := filepath.Join(t.TempDir(), "records.snap")
		in := mkEntries(n)
		if err := WriteEntries(path, in); err != nil {
			t.Fatalf("n=%d write: %v", n, err)
		}
		var got []Entry
		err := ReadEntries(path, func(e Entry) error {
			got = append(got, e)
			return nil
		})
		if err != nil {
			t.Fatalf("n=%d read: %v", n, err)
		}
		if len(got) != n {
			t.Fatalf("n=%d: read back %d entries", n, len(got))
		}
		for i := range got {
			if got[i].Key != in[i].Key {
				t.Fatalf("n=%d: entry %d key %q != %q", n, i, got[i].Key, in[i].Key)
			}
			if !bytes.Equal(got[i].Value, in[i].Value) {
				t.Fatalf("n=%d: entry %d value mismatch", n, i)
			}
		}
	}
}

func TestBlockFraming(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlock(&buf, mkEntries(2)); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.String()
	if raw[5] != '|' {
		t.Fatalf("expected delimiter at offset 5, got %q", raw[5])
	}
	if !strings.HasSuffix(raw, "\n") {
		t.Fatalf("block not newline terminated")
	}
	// the declared base-36 length must match the payload exactly
	payload := raw[6 : len(raw)-1]
	var entries []Entry
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
}

func TestReadBlockCorruption(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBlock(&buf, mkEntries(1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	good := buf.Bytes()

	cases := map[string][]byte{
		"truncated prefix":  good[:3],
		"bad delimiter":     append([]byte("00010-"), good[6:]...),
		"signed prefix":     []byte("-0001|x\n"),
		"plus prefix":       []byte("+0001|x\n"),
		"truncated payload": good[:len(good)-5],
		"missing newline":   good[:len(good)-1],
	}
	for name, data := range cases {
		_, err := ReadBlock(bytes.NewReader(data))
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}

	// exact EOF is not corruption
	if _, err := ReadBlock(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("empty input: expected io.EOF, got %v", err)
	}
}

func TestReplaceGuard(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "records.snap")
	tmp := filepath.Join(dir, "records.snap.tmp")

	if err := os.WriteFile(dst, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	// smaller tmp must not replace
	if err := os.WriteFile(tmp, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Replace(tmp, dst); !errors.Is(err, ErrShrunk) {
		t.Fatalf("expected ErrShrunk, got %v", err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "0123456789" {
		t.Fatalf("destination was modified: %q", b)
	}

	// equal size replaces
	if err := os.WriteFile(tmp, []byte("abcdefghij"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Replace(tmp, dst); err != nil {
		t.Fatalf("equal-size replace: %v", err)
	}
	b, _ = os.ReadFile(dst)
	if string(b) != "abcdefghij" {
		t.Fatalf("destination not replaced: %q", b)
	}

	// missing tmp fails loudly
	if err := Replace(tmp, dst); err == nil {
		t.Fatalf("expected error for missing temp file")
	}

	// missing destination always replaces
	if err := os.WriteFile(tmp, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(dir, "new.snap")
	if err := Replace(tmp, fresh); err != nil {
		t.Fatalf("replace onto missing dst: %v", err)
	}
}
