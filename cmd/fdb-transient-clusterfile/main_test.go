//go:build linux

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// The test binary plays two extra roles. With roleEnv=inject it runs the
// injector on its own arguments. Invoked through a symlink named reportName
// it acts as the target program and prints a report on stdout.
const (
	roleEnv    = "FDB_TRANSIENT_TEST_ROLE"
	exitEnv    = "FDB_TRANSIENT_TEST_EXIT"
	reportName = "report-child"
)

type report struct {
	Args        []string `json:"args"`
	ClusterFile string   `json:"cluster_file"`
	Content     string   `json:"content"`
	Link        string   `json:"link"`
	ReadErr     string   `json:"read_err,omitempty"`
}

func TestMain(m *testing.M) {
	if filepath.Base(os.Args[0]) == reportName {
		os.Exit(reportChild())
	}
	if os.Getenv(roleEnv) == "inject" {
		os.Exit(run(os.Args))
	}
	os.Exit(m.Run())
}

func reportChild() int {
	rep := report{Args: os.Args, ClusterFile: os.Getenv("FDB_CLUSTER_FILE")}
	if b, err := os.ReadFile(rep.ClusterFile); err != nil {
		rep.ReadErr = err.Error()
	} else {
		rep.Content = string(b)
	}
	rep.Link, _ = os.Readlink(rep.ClusterFile)
	if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
		return 99
	}
	code, _ := strconv.Atoi(os.Getenv(exitEnv))
	return code
}

// target returns a symlink to the test binary that runs reportChild.
func target(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), reportName)
	require.NoError(t, os.Symlink(exe, link))
	return link
}

type result struct {
	stdout string
	stderr string
	code   int
}

func (r result) report(t *testing.T) report {
	t.Helper()
	var rep report
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &rep), "stdout: %q stderr: %q", r.stdout, r.stderr)
	require.Empty(t, rep.ReadErr)
	return rep
}

// cleanEnv is the test environment minus anything the injector reads.
func cleanEnv() []string {
	var out []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "FDB_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// execInjector runs the test binary as the injector with extra env and args.
func execInjector(env []string, args ...string) (result, error) {
	exe, err := os.Executable()
	if err != nil {
		return result{}, err
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(append(cleanEnv(), roleEnv+"=inject"), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return result{}, fmt.Errorf("run injector: %w", err)
		}
		code = ee.ExitCode()
	}
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}, nil
}

func runInjector(t *testing.T, env []string, args ...string) result {
	t.Helper()
	res, err := execInjector(env, args...)
	require.NoError(t, err)
	return res
}

var handlePath = regexp.MustCompile(`^/proc/self/fd/[0-9]+$`)

func TestRoundTrip(t *testing.T) {
	tgt := target(t)
	for i, content := range []string{
		"xxxxxxxx:xxxxxxxx@172.16.222.53:14500",
		"a:b@10.0.0.1:4500,10.0.0.2:4500,10.0.0.3:4500\n",
		"  leading and trailing spaces  ",
		"unicode:ø@[::1]:4500",
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			res := runInjector(t, []string{"FDB_CLUSTER_STRING=" + content}, tgt)
			require.Zero(t, res.code, res.stderr)

			rep := res.report(t)
			require.Equal(t, content, rep.Content)
			require.Regexp(t, handlePath, rep.ClusterFile)
			require.True(t, strings.HasPrefix(rep.Link, "/memfd:fdb.cluster"), "link = %q", rep.Link)
		})
	}
}

func TestEmptyClusterStringIsInjected(t *testing.T) {
	res := runInjector(t, []string{"FDB_CLUSTER_STRING="}, target(t))
	require.Zero(t, res.code, res.stderr)
	rep := res.report(t)
	require.Equal(t, "", rep.Content)
	require.Regexp(t, handlePath, rep.ClusterFile)
}

func TestArgumentForwarding(t *testing.T) {
	tgt := target(t)
	args := []string{"--exec", "status details", "", "-x", "--", "FDB_CLUSTER_STRING=ignored"}

	res := runInjector(t, []string{"FDB_CLUSTER_STRING=c:d@127.0.0.1:4500"}, append([]string{tgt}, args...)...)
	require.Zero(t, res.code, res.stderr)

	rep := res.report(t)
	if diff := cmp.Diff(append([]string{tgt}, args...), rep.Args); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
}

func TestOverwritesExistingClusterFile(t *testing.T) {
	res := runInjector(t, []string{
		"FDB_CLUSTER_STRING=e:f@127.0.0.1:4500",
		"FDB_CLUSTER_FILE=/etc/foundationdb/fdb.cluster",
	}, target(t))
	require.Zero(t, res.code, res.stderr)
	require.Regexp(t, handlePath, res.report(t).ClusterFile)
}

func TestExitStatusIsTargets(t *testing.T) {
	for _, mode := range []string{"exec", "spawn"} {
		t.Run(mode, func(t *testing.T) {
			res := runInjector(t, []string{
				"FDB_CLUSTER_STRING=g:h@127.0.0.1:4500",
				"FDB_TRANSIENT_MODE=" + mode,
				exitEnv + "=5",
			}, target(t), "arg")
			require.Equal(t, 5, res.code, res.stderr)

			rep := res.report(t)
			require.Equal(t, "g:h@127.0.0.1:4500", rep.Content)
			require.Equal(t, "arg", rep.Args[1])
		})
	}
}

func TestIsolation(t *testing.T) {
	tgt := target(t)

	var g errgroup.Group
	results := make([]result, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := execInjector([]string{fmt.Sprintf("FDB_CLUSTER_STRING=cluster%d:id@10.0.0.%d:4500", i, i)}, tgt)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, res := range results {
		require.Zero(t, res.code, res.stderr)
		require.Equal(t, fmt.Sprintf("cluster%d:id@10.0.0.%d:4500", i, i), res.report(t).Content)
	}
}

func TestNoPersistence(t *testing.T) {
	for _, backing := range []string{"memfd", "unlinked", "auto"} {
		t.Run(backing, func(t *testing.T) {
			scratch := t.TempDir()
			res := runInjector(t, []string{
				"FDB_CLUSTER_STRING=secret:coordinators@10.9.9.9:4500",
				"FDB_TRANSIENT_BACKING=" + backing,
				"FDB_TRANSIENT_TMPDIR=" + scratch,
			}, target(t))
			require.Zero(t, res.code, res.stderr)
			require.Equal(t, "secret:coordinators@10.9.9.9:4500", res.report(t).Content)

			entries, err := os.ReadDir(scratch)
			require.NoError(t, err)
			require.Empty(t, entries)
		})
	}
}

func TestMissingClusterString(t *testing.T) {
	res := runInjector(t, nil, target(t))
	require.Equal(t, 1, res.code)
	require.Empty(t, res.stdout)
	require.Contains(t, res.stderr, "FDB_CLUSTER_STRING is not set")
	require.Contains(t, res.stderr, "usage: ")
}

func TestNoCommand(t *testing.T) {
	res := runInjector(t, []string{"FDB_CLUSTER_STRING=a:b@127.0.0.1:4500"})
	require.Equal(t, 1, res.code)
	require.True(t, strings.HasPrefix(res.stderr, "usage: "), res.stderr)
}

func TestTargetNotExecutable(t *testing.T) {
	plain := filepath.Join(t.TempDir(), "fdbcli")
	require.NoError(t, os.WriteFile(plain, []byte("not a program"), 0o644))

	res := runInjector(t, []string{"FDB_CLUSTER_STRING=a:b@127.0.0.1:4500"}, plain)
	require.Equal(t, 1, res.code)
	require.Empty(t, res.stdout)
	require.Contains(t, res.stderr, "error: access("+plain+"): permission denied")
}

func TestTargetMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "fdbserver")

	res := runInjector(t, []string{"FDB_CLUSTER_STRING=a:b@127.0.0.1:4500"}, missing)
	require.Equal(t, 1, res.code)
	require.Contains(t, res.stderr, "error: access("+missing+"): no such file or directory")
}

func TestTargetNotExecutableFormat(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "bogus")
	require.NoError(t, os.WriteFile(bogus, []byte{0x00, 0x01, 0x02, 0x03}, 0o755))

	res := runInjector(t, []string{"FDB_CLUSTER_STRING=a:b@127.0.0.1:4500"}, bogus)
	require.Equal(t, 1, res.code)
	require.Contains(t, res.stderr, "error: execv("+bogus+"): exec format error")
}

func TestInvalidMode(t *testing.T) {
	res := runInjector(t, []string{
		"FDB_CLUSTER_STRING=a:b@127.0.0.1:4500",
		"FDB_TRANSIENT_MODE=fork",
	}, target(t))
	require.Equal(t, 1, res.code)
	require.Contains(t, res.stderr, "FDB_TRANSIENT_MODE")
	require.Contains(t, res.stderr, "usage: ")
}
