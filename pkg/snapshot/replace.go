package snapshot

import (
	"errors"
	"fmt"
	"os"
)

// ErrShrunk reports that a replacement was refused because the new file is
// smaller than the file it would replace. A shrinking snapshot almost always
// means a truncated or empty write, so the old data is kept.
var ErrShrunk = errors.New("snapshot: refusing to replace with smaller file")

// Replace atomically renames tmp over dst. The rename only happens when the
// new file's size is greater than or equal to dst's current size; if dst does
// not exist the rename always happens. A missing tmp is an error.
func Replace(tmp, dst string) error {
	ni, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: temp file missing: %w", err)
	}
	if oi, err := os.Stat(dst); err == nil {
		if ni.Size() < oi.Size() {
			return fmt.Errorf("%w: %d < %d bytes", ErrShrunk, ni.Size(), oi.Size())
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmp, dst)
}
