// Package config loads the injector's settings from the environment.
//
// There are no command-line flags: everything after the program name on the
// command line belongs to the target, so all tuning goes through variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Environment variable names.
const (
	EnvClusterString = "FDB_CLUSTER_STRING"
	EnvClusterFile   = "FDB_CLUSTER_FILE"
	EnvRuntimeDir    = "XDG_RUNTIME_DIR"
	EnvScratchDir    = "FDB_TRANSIENT_TMPDIR"
	EnvBacking       = "FDB_TRANSIENT_BACKING"
	EnvMode          = "FDB_TRANSIENT_MODE"
	EnvDebug         = "FDB_TRANSIENT_DEBUG"
)

// Mode selects how control is handed to the target.
type Mode string

const (
	// ModeExec replaces the current process image.
	ModeExec Mode = "exec"
	// ModeSpawn starts the target as a child, waits, and forwards its exit status.
	ModeSpawn Mode = "spawn"
)

// Config holds everything read from the environment.
type Config struct {
	// ClusterString is nil when FDB_CLUSTER_STRING is unset. An empty
	// value is still a value.
	ClusterString *string `envconfig:"FDB_CLUSTER_STRING"`

	RuntimeDir string `envconfig:"XDG_RUNTIME_DIR"`
	ScratchDir string `envconfig:"FDB_TRANSIENT_TMPDIR"`
	Backing    string `envconfig:"FDB_TRANSIENT_BACKING" default:"auto"`
	Mode       Mode   `envconfig:"FDB_TRANSIENT_MODE" default:"exec"`
	Debug      bool   `envconfig:"FDB_TRANSIENT_DEBUG" default:"false"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings. Empty values mean the default.
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeExec, ModeSpawn:
	default:
		return fmt.Errorf("%s: unknown mode %q (want exec or spawn)", EnvMode, c.Mode)
	}
	switch c.Backing {
	case "", "auto", "memfd", "tmpfile", "unlinked":
	default:
		return fmt.Errorf("%s: unknown backing %q (want auto, memfd, tmpfile or unlinked)", EnvBacking, c.Backing)
	}
	return nil
}
