//go:build unix && !linux

package clusterfile

import "fmt"

const handlePrefix = "/dev/fd/"

var autoStrategies = []Strategy{StrategyUnlinked}

func openMemfd() (int, error) {
	return -1, fmt.Errorf("memfd_create: %w", ErrUnsupported)
}

func openTmpfile(dir string) (int, error) {
	return -1, fmt.Errorf("open(%s, O_TMPFILE): %w", dir, ErrUnsupported)
}
