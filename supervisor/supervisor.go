//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/guidanoli/bwrapbox/cgroup"
	"golang.org/x/sys/unix"
)

/**
 * Runs the configured bwrap invocation under supervision and returns the
 * exit code to propagate: the child's exit code when it exited, the
 * signal number when it was killed or stopped, 130 on an interrupted
 * wait.
 *
 * With cgroup mode off, the supervisor execs bwrap in-process and this
 * function only returns on failure.
 * @param cfg the supervisor configuration
 * @return the exit code and error if any
 */
func Run(cfg *Config) (int, error) {
	if !cfg.CgroupEnabled {
		return 0, ExecDirect(cfg)
	}

	if err := ensureIDSwitchAllowed(cfg); err != nil {
		return 0, err
	}

	// Tear down any leftover cgroup from a previous run first.
	if cfg.CgroupOverwrite {
		if err := cgroup.KillAndDestroy(cfg.CgroupPath); err != nil {
			return 0, err
		}
	}

	cg, err := cgroup.Create(cfg.CgroupPath)
	if err != nil {
		return 0, err
	}
	slog.Debug("cgroup created", slog.String("path", cg.Path()))

	// The same teardown runs on normal return, on fatal errors, and on
	// SIGTERM/SIGINT. Destruction is gated on the directory's existence,
	// which makes repeat calls safe.
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			if err := cg.Destroy(); err != nil {
				slog.Warn("cgroup teardown failed", slog.Any("err", err))
			}
		})
	}
	defer cleanup()

	if err := cg.SetLimits(cfg.CgroupLimits); err != nil {
		return 0, err
	}

	cmd, err := spawnChild(cfg, cg)
	if err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	start := time.Now()
	slog.Debug("child started", slog.Int("child", pid))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.hasTimeLimits() {
		go watch(ctx, cfg, pid, start)
	}

	// An external SIGTERM/SIGINT kills every cgroup member, including the
	// child; the wait below then unblocks and the summary path runs.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			cleanup()
		}
	}()

	ws, werr := waitChild(pid)

	// Read the final usage before the teardown removes cpu.stat.
	cpu := cgroup.CPUTimeUsecs(cfg.CgroupPath)
	elapsed := time.Since(start).Microseconds()
	cancel()
	cleanup()
	reapStray()

	if !cfg.Quiet {
		fmt.Fprintln(os.Stderr, summarize(ws, werr, elapsed, cpu))
	}
	_, status := classify(ws, werr)
	return status, nil
}

/**
 * Waits for the child to terminate or stop, retrying interrupted waits.
 * @param pid the child pid
 * @return the wait status and error if any
 */
func waitChild(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if wpid == pid {
			return ws, nil
		}
	}
}

/**
 * Collects any stray children killed during teardown, without blocking.
 */
func reapStray() {
	for {
		pid, err := unix.Wait4(-1, nil, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}

/**
 * Maps a wait outcome to the summary reason and the numeric status:
 * the exit code when exited, the signal number when killed or stopped,
 * 130 when the wait itself failed.
 */
func classify(ws unix.WaitStatus, werr error) (string, int) {
	switch {
	case werr != nil:
		return "interrupted", 130
	case ws.Exited():
		return "exited", ws.ExitStatus()
	case ws.Signaled():
		return "killed", int(ws.Signal())
	case ws.Stopped():
		return "stopped", int(ws.StopSignal())
	}
	return "interrupted", 130
}

/**
 * Formats the one-line termination summary.
 * @param ws the child's wait status
 * @param werr the wait error, if the wait failed
 * @param elapsed wall-clock microseconds since the fork
 * @param cpu cgroup CPU microseconds, or -1 if unreadable
 * @return the summary line
 */
func summarize(ws unix.WaitStatus, werr error, elapsed, cpu int64) string {
	if werr == nil && ws.Signaled() && ws.Signal() == unix.SIGXCPU {
		return fmt.Sprintf("[bwrapbox] application time exceeded after %d real usecs and %d CPU usecs",
			elapsed, cpu)
	}
	reason, status := classify(ws, werr)
	return fmt.Sprintf("[bwrapbox] application %s with status %d after %d real usecs and %d CPU usecs",
		reason, status, elapsed, cpu)
}
