// fdb-transient-clusterfile - run a FoundationDB program with an in-memory cluster file
//
// Usage:
//
//	FDB_CLUSTER_STRING=<cluster string> fdb-transient-clusterfile <COMMAND> ARGS...
//
// The cluster string is written to an unnamed memory-backed file and
// FDB_CLUSTER_FILE is set to its /proc/self/fd path before COMMAND replaces
// this process. Nothing is left on disk.
//
// Example:
//
//	$ export FDB_CLUSTER_STRING="xxxxxxxx:xxxxxxxx@172.16.222.53:14500"
//	$ fdb-transient-clusterfile $(which env) | grep FDB_CLUSTER_FILE
//	FDB_CLUSTER_FILE=/proc/self/fd/3
//	$ fdb-transient-clusterfile $(which cat) /proc/self/fd/3 && echo
//	xxxxxxxx:xxxxxxxx@172.16.222.53:14500
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mbrock/fdb-transient-clusterfile/internal/config"
	"github.com/mbrock/fdb-transient-clusterfile/internal/inject"
	"github.com/mbrock/fdb-transient-clusterfile/internal/logging"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	prog := "fdb-transient-clusterfile"
	if len(argv) > 0 {
		prog = argv[0]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		usage(prog)
		return 1
	}
	logging.Setup(cfg.Debug)

	var args []string
	if len(argv) > 1 {
		args = argv[1:]
	}

	code, err := inject.New().Run(context.Background(), inject.Request{
		Args:    args,
		Config:  cfg,
		Environ: os.Environ(),
	})
	if err != nil {
		if inject.KindOf(err) == inject.KindUsage {
			if !errors.Is(err, inject.ErrNoCommand) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			usage(prog)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return code
}

func usage(prog string) {
	fmt.Fprintf(os.Stderr, `usage: %s <COMMAND> ARGS...

Runs COMMAND with FDB_CLUSTER_FILE pointing at an in-memory copy of
$FDB_CLUSTER_STRING.

Environment:
  %-22s cluster string to inject (required)
  %-22s scratch directory for non-memfd backing
  %-22s scratch directory override
  %-22s auto, memfd, tmpfile or unlinked (default auto)
  %-22s exec or spawn (default exec)
  %-22s log debug messages
`, filepath.Base(prog),
		config.EnvClusterString,
		config.EnvRuntimeDir,
		config.EnvScratchDir,
		config.EnvBacking,
		config.EnvMode,
		config.EnvDebug,
	)
}
