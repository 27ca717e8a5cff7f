//go:build unix

package clusterfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// removeFile is os.Remove; tests replace it to simulate a failing unlink.
var removeFile = os.Remove

// openUnlinked is the portable fallback. The file has a name only between
// CreateTemp and Remove. If the unlink fails, the file is closed and the
// unlink retried once; if that also fails, the empty file stays behind and
// the error names it.
func openUnlinked(dir string) (int, error) {
	tmp, err := os.CreateTemp(dir, Name+".*")
	if err != nil {
		return -1, fmt.Errorf("create temp in %s: %w", dir, err)
	}
	name := tmp.Name()

	if err := removeFile(name); err != nil {
		tmp.Close()
		if rerr := removeFile(name); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return -1, fmt.Errorf("unlink %s: %w (empty file left behind: %v)", name, err, rerr)
		}
		return -1, fmt.Errorf("unlink %s: %w", name, err)
	}
	defer tmp.Close()

	// dup(2) leaves FD_CLOEXEC clear on the new descriptor, unlike the
	// descriptor os.CreateTemp hands back.
	fd, err := unix.Dup(int(tmp.Fd()))
	if err != nil {
		return -1, fmt.Errorf("dup %s: %w", name, err)
	}
	return fd, nil
}
