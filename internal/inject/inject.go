//go:build unix

// Package inject wires a transient cluster file into a target program.
//
// Run makes a single forward pass: validate the command, check the target is
// executable, require FDB_CLUSTER_STRING, create an unnamed backing object,
// write the content once, publish its handle path as FDB_CLUSTER_FILE in the
// child's environment, then hand off to the target. Any failure stops the
// pass; nothing is retried.
package inject

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mbrock/fdb-transient-clusterfile/internal/clusterfile"
	"github.com/mbrock/fdb-transient-clusterfile/internal/config"
	"github.com/mbrock/fdb-transient-clusterfile/internal/dirs"
	"github.com/mbrock/fdb-transient-clusterfile/internal/launch"
)

var (
	// ErrNoCommand reports a missing target program.
	ErrNoCommand = errors.New("no command given")
	// ErrNoClusterString reports that FDB_CLUSTER_STRING is unset.
	ErrNoClusterString = errors.New(config.EnvClusterString + " is not set")
)

// Backing is the part of a backing object Run needs.
type Backing interface {
	WriteOnce(content []byte) error
	Fd() int
	Path() string
	Close() error
}

// Request is one invocation.
type Request struct {
	// Args is the target program followed by its arguments.
	Args   []string
	Config config.Config
	// Environ is the parent environment the child's is derived from.
	Environ []string
}

// Injector runs the injection pass. The function fields are the system
// boundaries; New fills them with the real implementations.
type Injector struct {
	CheckAccess func(path string) error
	Open        func(opts clusterfile.Options) (Backing, error)
	Exec        func(spec launch.Spec) error
	Spawn       func(ctx context.Context, spec launch.Spec) (int, error)
}

// New returns an Injector backed by the OS.
func New() *Injector {
	return &Injector{
		CheckAccess: launch.CheckAccess,
		Open: func(opts clusterfile.Options) (Backing, error) {
			return clusterfile.Open(opts)
		},
		Exec:  launch.Exec,
		Spawn: launch.Spawn,
	}
}

// Run performs the injection. In exec mode it does not return on success.
// In spawn mode it returns the child's exit code. Errors are *Error.
func (in *Injector) Run(ctx context.Context, req Request) (int, error) {
	if len(req.Args) < 1 {
		return 1, &Error{Kind: KindUsage, Err: ErrNoCommand}
	}
	if err := req.Config.Validate(); err != nil {
		return 1, &Error{Kind: KindUsage, Err: err}
	}

	target := req.Args[0]
	if err := in.CheckAccess(target); err != nil {
		return 1, &Error{Kind: KindAccess, Err: err}
	}

	if req.Config.ClusterString == nil {
		return 1, &Error{Kind: KindUsage, Err: ErrNoClusterString}
	}
	content := []byte(*req.Config.ClusterString)

	f, err := in.Open(clusterfile.Options{
		Strategy:   clusterfile.Strategy(req.Config.Backing),
		ScratchDir: dirs.ScratchDir(req.Config.ScratchDir, req.Config.RuntimeDir),
	})
	if err != nil {
		return 1, &Error{Kind: KindCreate, Op: "create cluster file", Err: err}
	}
	// Exec only returns on failure, and then the process is about to exit.
	defer f.Close()

	if err := f.WriteOnce(content); err != nil {
		return 1, &Error{Kind: KindWrite, Op: "could not write " + config.EnvClusterString, Err: err}
	}

	path := f.Path()
	slog.Debug("cluster file ready", "path", path, "bytes", len(content))

	env, err := launch.ChildEnv(req.Environ, config.EnvClusterFile, path)
	if err != nil {
		return 1, &Error{Kind: KindEnv, Op: "set " + config.EnvClusterFile, Err: err}
	}

	spec, err := launch.NewSpec(req.Args, env)
	if err != nil {
		return 1, &Error{Kind: KindUsage, Err: err}
	}
	spec.Files = []int{f.Fd()}

	if req.Config.Mode == config.ModeSpawn {
		code, err := in.Spawn(ctx, spec)
		if err != nil {
			return 1, &Error{Kind: KindHandoff, Err: err}
		}
		slog.Debug("target exited", "path", target, "code", code)
		return code, nil
	}

	err = in.Exec(spec)
	if err == nil {
		err = errors.New("exec returned without error")
	}
	return 1, &Error{Kind: KindHandoff, Err: err}
}
