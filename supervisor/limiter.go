//go:build linux

package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/guidanoli/bwrapbox/cgroup"
	"golang.org/x/sys/unix"
)

type phaseOutcome int

const (
	// A threshold was crossed and the signal was sent.
	phaseCrossed phaseOutcome = iota

	// The cgroup disappeared; the child is gone.
	phaseGone

	// The watch context was cancelled.
	phaseStopped
)

// Lower bound on the poll interval so a threshold that is only microseconds
// away, on an axis that accrues slowly, does not spin.
const minPollInterval = time.Millisecond

/**
 * Substitutes the hard threshold for a disabled soft one, so the soft
 * phase never outlasts the hard phase.
 */
func normalizeHigh(high, max int64) int64 {
	if high >= 0 {
		return high
	}
	return max
}

/**
 * Computes how long to sleep before the next sample: the minimum of the
 * remaining distances to each enabled threshold, each clamped to zero.
 * @param cpuLimit the CPU threshold in usecs, or -1
 * @param cpuNow the CPU usage sampled now
 * @param wallLimit the wall-clock threshold in usecs, or -1
 * @param wallNow the elapsed time sampled now
 * @return the poll interval
 */
func nextDelay(cpuLimit, cpuNow, wallLimit, wallNow int64) time.Duration {
	remaining := int64(-1)
	if cpuLimit >= 0 {
		remaining = max(cpuLimit-cpuNow, 0)
	}
	if wallLimit >= 0 {
		r := max(wallLimit-wallNow, 0)
		if remaining < 0 || r < remaining {
			remaining = r
		}
	}

	d := time.Duration(remaining) * time.Microsecond
	if d < minPollInterval {
		d = minPollInterval
	}
	return d
}

/**
 * Runs one watch phase: samples elapsed wall time and cgroup CPU usage
 * until either enabled threshold is crossed, then signals the child.
 * @param ctx cancels the watch
 * @param pid the child to signal
 * @param path the cgroup path to sample
 * @param start the monotonic clock baseline
 * @param cpuLimit the CPU threshold in usecs, or -1
 * @param wallLimit the wall-clock threshold in usecs, or -1
 * @param sig the signal to deliver on crossing
 * @return the phase outcome
 */
func watchPhase(ctx context.Context, pid int, path string, start time.Time, cpuLimit, wallLimit int64, sig unix.Signal) phaseOutcome {
	for {
		elapsed := time.Since(start).Microseconds()
		cpu := cgroup.CPUTimeUsecs(path)
		if cpu < 0 {
			return phaseGone
		}

		if (cpuLimit >= 0 && cpu >= cpuLimit) || (wallLimit >= 0 && elapsed >= wallLimit) {
			// ESRCH means the child already exited.
			if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
				return phaseGone
			}
			return phaseCrossed
		}

		timer := time.NewTimer(nextDelay(cpuLimit, cpu, wallLimit, elapsed))
		select {
		case <-ctx.Done():
			timer.Stop()
			return phaseStopped
		case <-timer.C:
		}
	}
}

/**
 * Computes the soft-phase thresholds. The phase runs only when a soft
 * threshold was actually requested; inside an active phase, a disabled
 * axis is bounded by its hard threshold so the soft phase never outlasts
 * the hard one.
 * @param cfg the supervisor configuration
 * @return whether the phase runs, and the per-axis thresholds
 */
func highPhaseThresholds(cfg *Config) (bool, int64, int64) {
	active := cfg.CPUHighUsecs >= 0 || cfg.WallHighUsecs >= 0
	return active,
		normalizeHigh(cfg.CPUHighUsecs, cfg.CPUMaxUsecs),
		normalizeHigh(cfg.WallHighUsecs, cfg.WallMaxUsecs)
}

/**
 * Enforces the CPU and wall-clock budgets against the child: first the
 * soft phase ending in SIGXCPU, then the hard phase ending in SIGKILL.
 * @param ctx cancels the watch
 * @param cfg the supervisor configuration
 * @param pid the child pid
 * @param start the monotonic clock baseline, seeded right after the fork
 */
func watch(ctx context.Context, cfg *Config, pid int, start time.Time) {
	if active, cpuHigh, wallHigh := highPhaseThresholds(cfg); active {
		if watchPhase(ctx, pid, cfg.CgroupPath, start, cpuHigh, wallHigh, unix.SIGXCPU) != phaseCrossed {
			return
		}
	}
	if cfg.CPUMaxUsecs >= 0 || cfg.WallMaxUsecs >= 0 {
		watchPhase(ctx, pid, cfg.CgroupPath, start, cfg.CPUMaxUsecs, cfg.WallMaxUsecs, unix.SIGKILL)
	}
}
