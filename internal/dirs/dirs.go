// Package dirs resolves the scratch directory used by backing strategies
// that need a real filesystem to hold an unnamed file. It handles XDG
// runtime directories with fallbacks for systems where XDG isn't set up.
package dirs

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ScratchDir returns the directory for unnamed scratch files.
// Priority: override > runtimeDir ($XDG_RUNTIME_DIR) > best available runtime dir > $TMPDIR
func ScratchDir(override, runtimeDir string) string {
	if override != "" {
		return override
	}
	if runtimeDir != "" {
		return runtimeDir
	}
	if base := findRuntimeBase(); base != "" {
		return base
	}
	return os.TempDir()
}

// findRuntimeBase finds the per-user runtime directory when XDG_RUNTIME_DIR
// is not exported (cron, some container init systems).
// On Linux this is typically /run/user/$UID, on FreeBSD /var/run/xdg/$USER.
func findRuntimeBase() string {
	currentUser, err := user.Current()
	if err != nil {
		return ""
	}

	candidates := []string{
		filepath.Join("/run/user", currentUser.Uid),
		filepath.Join("/var/run/user", currentUser.Uid),
	}

	if runtime.GOOS == "freebsd" {
		candidates = append([]string{
			filepath.Join("/var/run/xdg", currentUser.Username),
		}, candidates...)
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}

	return ""
}
