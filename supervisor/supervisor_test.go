//go:build linux

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

/**
 * The test binary doubles as the shim stage, exactly like the real one.
 */
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == ShimCommand {
		ShimMain(os.Args[2:])
	}
	os.Exit(m.Run())
}

func exited(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func signaled(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(sig)
}

func stopped(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(int(sig)<<8 | 0x7f)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		ws     unix.WaitStatus
		werr   error
		reason string
		status int
	}{
		{"exited zero", exited(0), nil, "exited", 0},
		{"exited nonzero", exited(7), nil, "exited", 7},
		{"killed", signaled(unix.SIGKILL), nil, "killed", 9},
		{"killed by xcpu", signaled(unix.SIGXCPU), nil, "killed", 24},
		{"stopped", stopped(unix.SIGSTOP), nil, "stopped", 19},
		{"interrupted", 0, errors.New("wait failed"), "interrupted", 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, status := classify(tt.ws, tt.werr)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t,
		"[bwrapbox] application exited with status 7 after 1500 real usecs and 900 CPU usecs",
		summarize(exited(7), nil, 1500, 900))

	assert.Equal(t,
		"[bwrapbox] application killed with status 9 after 100000 real usecs and 42 CPU usecs",
		summarize(signaled(unix.SIGKILL), nil, 100000, 42))

	assert.Equal(t,
		"[bwrapbox] application time exceeded after 250000 real usecs and 200000 CPU usecs",
		summarize(signaled(unix.SIGXCPU), nil, 250000, 200000))

	assert.Equal(t,
		"[bwrapbox] application interrupted with status 130 after 10 real usecs and -1 CPU usecs",
		summarize(0, errors.New("wait failed"), 10, -1))
}

func TestSwitchIDsNoChange(t *testing.T) {
	// Matching ids skip the syscall entirely, so this works unprivileged.
	require.NoError(t, switchIDs(NoID, NoID))
	require.NoError(t, switchIDs(uint32(unix.Getuid()), uint32(unix.Getgid())))
}

func TestEnsureIDSwitchAllowedNoSwitch(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, ensureIDSwitchAllowed(cfg))

	// Switching to the ids already held needs no capability.
	cfg.ExecUID = uint32(unix.Getuid())
	cfg.ExecGID = uint32(unix.Getgid())
	assert.NoError(t, ensureIDSwitchAllowed(cfg))
}

func skipWithoutBwrap(t *testing.T) {
	t.Helper()
	testutil.SkipIfNoCgroupV2(t)
	if _, err := exec.LookPath("bwrap"); err != nil {
		t.Skip("skipping: bwrap not installed")
	}
}

func TestRunExitStatusFidelity(t *testing.T) {
	skipWithoutBwrap(t)
	path := testutil.ScratchCgroupPath(t)

	cfg := NewConfig()
	cfg.CgroupEnabled = true
	cfg.CgroupPath = path
	cfg.Quiet = true
	cfg.BwrapArgv = []string{"bwrap", "--ro-bind", "/", "/", "/bin/sh", "-c", "exit 7"}

	code, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	// The cgroup must be gone after the supervisor returns.
	assert.False(t, cgroup.Exists(path))
}

func TestRunWallClockTimeout(t *testing.T) {
	skipWithoutBwrap(t)
	path := testutil.ScratchCgroupPath(t)

	cfg := NewConfig()
	cfg.CgroupEnabled = true
	cfg.CgroupPath = path
	cfg.Quiet = true
	cfg.WallMaxUsecs = 200000
	cfg.BwrapArgv = []string{"bwrap", "--ro-bind", "/", "/", "/bin/sleep", "5"}

	begin := time.Now()
	code, err := Run(cfg)
	require.NoError(t, err)

	assert.Equal(t, int(unix.SIGKILL), code)
	assert.Less(t, time.Since(begin), 3*time.Second)
	assert.False(t, cgroup.Exists(path))
}
