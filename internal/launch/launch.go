//go:build unix

// Package launch hands control to the target program, either by replacing
// the current process image or by spawning it and waiting.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spec describes the target invocation.
type Spec struct {
	// Path is the executable to run.
	Path string
	// Argv is the full argument vector; Argv[0] is Path as the caller wrote it.
	Argv []string
	// Env is the complete child environment.
	Env []string
	// Files lists descriptors the child must see at the same numbers.
	Files []int
}

// NewSpec builds a Spec from positional args (target first) and an environment.
func NewSpec(args []string, env []string) (Spec, error) {
	if len(args) == 0 {
		return Spec{}, errors.New("empty command")
	}
	return Spec{
		Path: args[0],
		Argv: append([]string(nil), args...),
		Env:  env,
	}, nil
}

// AccessError reports a target that is not readable and executable.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access(%s): %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// CheckAccess verifies the current user may read and execute path.
func CheckAccess(path string) error {
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return &AccessError{Path: path, Err: err}
	}
	return nil
}

// ChildEnv returns a copy of base with key set to value. Every existing
// entry for key is dropped; base is not modified.
func ChildEnv(base []string, key, value string) ([]string, error) {
	if key == "" || strings.ContainsAny(key, "=\x00") {
		return nil, fmt.Errorf("invalid environment key %q", key)
	}
	if strings.ContainsRune(value, 0) {
		return nil, fmt.Errorf("value for %s contains NUL", key)
	}

	prefix := key + "="
	out := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, prefix+value), nil
}

// Exec replaces the current process image. It returns only on failure.
// Descriptors without close-on-exec stay open in the new image.
func Exec(spec Spec) error {
	slog.Debug("exec", "path", spec.Path, "argv", spec.Argv)
	if err := unix.Exec(spec.Path, spec.Argv, spec.Env); err != nil {
		return fmt.Errorf("execv(%s): %w", spec.Path, err)
	}
	return nil
}

// Spawn starts the target as a child with inherited stdio, waits for it and
// returns its exit code. Each descriptor in spec.Files appears in the child
// under the same number, so handle paths computed in the parent stay valid.
func Spawn(ctx context.Context, spec Spec) (int, error) {
	cmd := osexec.CommandContext(ctx, spec.Path)
	// Run exactly the path CheckAccess saw: a bare name is relative to the
	// working directory, as with execve, not looked up in $PATH.
	cmd.Path = spec.Path
	cmd.Err = nil
	cmd.Args = spec.Argv
	cmd.Env = spec.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	extra, err := extraFiles(spec.Files)
	if err != nil {
		return 1, err
	}
	defer closeAll(extra)
	cmd.ExtraFiles = extra

	slog.Debug("spawn", "path", spec.Path, "argv", spec.Argv, "files", spec.Files)
	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var ee *osexec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		if code < 0 {
			// Killed by a signal; report it the way a shell would.
			if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				return 128 + int(ws.Signal()), nil
			}
			return 1, nil
		}
		return code, nil
	}
	return 1, fmt.Errorf("wait %s: %w", spec.Path, err)
}

// extraFiles lays out cmd.ExtraFiles so that descriptor n lands at n in the
// child. ExtraFiles entry i becomes descriptor 3+i; nil entries are closed.
// Each entry wraps a close-on-exec duplicate so the caller keeps sole
// ownership of the original descriptor.
func extraFiles(fds []int) ([]*os.File, error) {
	var out []*os.File
	for _, fd := range fds {
		if fd < 3 {
			closeAll(out)
			return nil, fmt.Errorf("descriptor %d collides with stdio", fd)
		}
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 3)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("dup fd %d: %w", fd, err)
		}
		idx := fd - 3
		for len(out) <= idx {
			out = append(out, nil)
		}
		out[idx] = os.NewFile(uintptr(dup), fmt.Sprintf("fd%d", fd))
	}
	return out, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
