//go:build linux

package clusterfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const handlePrefix = "/proc/self/fd/"

var autoStrategies = []Strategy{StrategyMemfd, StrategyTmpfile, StrategyUnlinked}

func openMemfd() (int, error) {
	// No MFD_CLOEXEC: the descriptor must survive execve.
	fd, err := unix.MemfdCreate(Name, 0)
	if err != nil {
		return -1, fmt.Errorf("memfd_create(%s): %w", Name, err)
	}
	return fd, nil
}

func openTmpfile(dir string) (int, error) {
	fd, err := unix.Open(dir, unix.O_TMPFILE|unix.O_RDWR, 0o600)
	if err != nil {
		return -1, fmt.Errorf("open(%s, O_TMPFILE): %w", dir, err)
	}
	return fd, nil
}
