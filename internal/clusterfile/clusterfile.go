//go:build unix

// Package clusterfile creates the unnamed, memory-backed file that carries a
// cluster string into a child process.
//
// The file never has a directory entry. It is reachable only through its
// descriptor, and through the handle path (/proc/self/fd/N on Linux) while
// that descriptor is open. The descriptor is not marked close-on-exec, so
// the content survives execve(2).
package clusterfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"golang.org/x/sys/unix"
)

// Name is the debug name given to the backing object (visible in
// /proc/<pid>/fd as "/memfd:fdb.cluster").
const Name = "fdb.cluster"

// Strategy selects how the backing object is created.
type Strategy string

const (
	// StrategyAuto tries the platform's strategies in order of preference.
	StrategyAuto Strategy = "auto"
	// StrategyMemfd uses memfd_create(2). Linux only.
	StrategyMemfd Strategy = "memfd"
	// StrategyTmpfile opens an O_TMPFILE in the scratch directory. Linux only.
	StrategyTmpfile Strategy = "tmpfile"
	// StrategyUnlinked creates a temp file in the scratch directory and
	// unlinks it right away.
	StrategyUnlinked Strategy = "unlinked"
)

var (
	// ErrShortWrite reports that the single write stored fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
	// ErrUnsupported reports a strategy the platform cannot provide.
	ErrUnsupported = errors.New("strategy not supported on this platform")
	// ErrWritten reports a second write to the same backing object.
	ErrWritten = errors.New("content already written")
)

// Options configures Open.
type Options struct {
	Strategy Strategy
	// ScratchDir is used by the tmpfile and unlinked strategies.
	ScratchDir string
}

// File is an open, unnamed backing object.
type File struct {
	fd       int
	path     string
	strategy Strategy
	written  bool
}

// Open creates an empty backing object and computes its handle path.
func Open(opts Options) (*File, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	candidates := []Strategy{strategy}
	if strategy == StrategyAuto {
		candidates = autoStrategies
	}

	var errs []error
	for i, s := range candidates {
		fd, err := openWith(s, opts.ScratchDir)
		if err == nil {
			f := &File{fd: fd, path: HandlePath(fd), strategy: s}
			slog.Debug("backing object created", "strategy", s, "fd", fd, "path", f.path)
			return f, nil
		}
		errs = append(errs, err)
		if strategy != StrategyAuto || i == len(candidates)-1 || !fallbackAllowed(err) {
			break
		}
		slog.Debug("backing strategy unavailable, trying next", "strategy", s, "error", err)
	}
	return nil, errors.Join(errs...)
}

func openWith(s Strategy, scratchDir string) (int, error) {
	switch s {
	case StrategyMemfd:
		return openMemfd()
	case StrategyTmpfile:
		return openTmpfile(scratchDir)
	case StrategyUnlinked:
		return openUnlinked(scratchDir)
	default:
		return -1, fmt.Errorf("unknown backing strategy %q", s)
	}
}

// fallbackAllowed reports whether an auto strategy failure means "not
// available here" rather than a real fault like EMFILE.
func fallbackAllowed(err error) bool {
	return errors.Is(err, ErrUnsupported) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EISDIR) ||
		errors.Is(err, unix.EINVAL)
}

// WriteOnce stores content with a single write(2). A short write is an
// error; there is no retry.
func (f *File) WriteOnce(content []byte) error {
	if f.written {
		return ErrWritten
	}
	f.written = true

	n, err := unix.Write(f.fd, content)
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if n != len(content) {
		return fmt.Errorf("write %s: %w: %d of %d bytes", f.path, ErrShortWrite, n, len(content))
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		size, err := f.size()
		slog.Debug("backing object written", "path", f.path, "strategy", f.strategy, "bytes", n, "size", size, "stat_error", err)
	}
	return nil
}

// Fd returns the descriptor number.
func (f *File) Fd() int { return f.fd }

// Path returns the handle path. It is valid only while the descriptor is open.
func (f *File) Path() string { return f.path }

// size returns the current content length as the kernel sees it.
func (f *File) size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, fmt.Errorf("fstat %s: %w", f.path, err)
	}
	return st.Size, nil
}

// Close releases the descriptor; the content goes away with the last reference.
func (f *File) Close() error {
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}

// HandlePath returns the path the OS resolves back to descriptor fd.
func HandlePath(fd int) string {
	return handlePrefix + strconv.Itoa(fd)
}

var _ io.Closer = (*File)(nil)
