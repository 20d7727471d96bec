// Package snapshot implements the length-prefixed block format used to
// persist the record maps, plus the atomic file replacement that guards
// against truncated writes.
//
// A file is a concatenation of blocks. One block is a fixed-width 5-character
// base-36 length prefix, a '|' delimiter, a JSON array of up to BlockSize
// [key, value] pairs, and a trailing newline. The format exists so large
// record sets can be streamed in and out without parsing the whole file as
// one JSON document.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// BlockSize is the maximum number of key/value pairs per block.
const BlockSize = 100

const prefixWidth = 5

// ErrCorrupt reports a structural violation in the block format. It is
// distinguishable from a clean end-of-file, which terminates a read normally.
var ErrCorrupt = errors.New("snapshot: corrupt block")

// Entry is one key/value pair inside a block. Value is kept raw so callers
// decide how to decode it.
type Entry struct {
	Key   string
	Value json.RawMessage
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]json.RawMessage{mustJSON(e.Key), e.Value})
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.Key); err != nil {
		return err
	}
	e.Value = pair[1]
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// WriteBlock writes one block containing the given entries. The caller is
// responsible for keeping len(entries) <= BlockSize; larger blocks still
// encode correctly but readers written against the original format may
// reject prefixes wider than five base-36 digits.
func WriteBlock(w io.Writer, entries []Entry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	l := strconv.FormatInt(int64(len(payload)), 36)
	if len(l) > prefixWidth {
		return fmt.Errorf("snapshot: block payload too large: %d bytes", len(payload))
	}
	for len(l) < prefixWidth {
		l = "0" + l
	}
	if _, err := io.WriteString(w, l+"|"); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// ReadBlock reads one block from r. It returns io.EOF, with no entries, when
// r is positioned exactly at end-of-file; any other framing violation is
// ErrCorrupt.
func ReadBlock(r io.Reader) ([]Entry, error) {
	head := make([]byte, prefixWidth+1)
	if _, err := io.ReadFull(r, head); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: short prefix: %v", ErrCorrupt, err)
	}
	if head[prefixWidth] != '|' {
		return nil, fmt.Errorf("%w: missing delimiter", ErrCorrupt)
	}
	// ParseUint rejects sign characters, so a prefix like "-0001" is caught
	// here rather than producing a negative allocation below.
	length, err := strconv.ParseUint(string(head[:prefixWidth]), 36, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad length prefix %q", ErrCorrupt, head[:prefixWidth])
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload: %v", ErrCorrupt, err)
	}
	nl := make([]byte, 1)
	if _, err := io.ReadFull(r, nl); err != nil || nl[0] != '\n' {
		return nil, fmt.Errorf("%w: missing trailing newline", ErrCorrupt)
	}
	var entries []Entry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return entries, nil
}

// WriteEntries writes all entries to path, grouped into blocks of BlockSize.
func WriteEntries(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for start := 0; start < len(entries); start += BlockSize {
		end := start + BlockSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := WriteBlock(w, entries[start:end]); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadEntries streams every entry in path through fn, in file order. A clean
// end-of-file at a block boundary terminates the read; anything else
// mid-block returns ErrCorrupt.
func ReadEntries(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		entries, err := ReadBlock(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}
