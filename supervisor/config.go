//go:build linux

package supervisor

import (
	"log/slog"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/logger"
	"github.com/guidanoli/bwrapbox/rlimit"
)

/**
 * Sentinel uid/gid meaning "do not switch", matching the no-change
 * convention of setresuid.
 */
const NoID = ^uint32(0)

/**
 * Supervisor parameters, populated by the argument parser and immutable
 * thereafter.
 */
type Config struct {

	// Cgroup mode.
	CgroupEnabled   bool
	CgroupOverwrite bool
	CgroupPath      string

	// Cgroup control settings, written in order.
	CgroupLimits []cgroup.Limit

	// CPU-time thresholds in microseconds; -1 disables.
	CPUHighUsecs int64
	CPUMaxUsecs  int64

	// Wall-clock thresholds in microseconds; -1 disables.
	WallHighUsecs int64
	WallMaxUsecs  int64

	// Per-process limits applied before exec, in order.
	ExecLimits []rlimit.Limit

	// Identity to assume before exec; NoID leaves it unchanged.
	ExecUID uint32
	ExecGID uint32

	// Suppress the final summary line.
	Quiet bool

	// Logging.
	LogLevel  slog.Level
	LogFormat logger.LogFormat

	// Pass-through argv, with argv[0] = "bwrap".
	BwrapArgv []string
}

/**
 * @return a configuration with every limit disabled and the identity
 *         left unchanged.
 */
func NewConfig() *Config {
	return &Config{
		CPUHighUsecs:  -1,
		CPUMaxUsecs:   -1,
		WallHighUsecs: -1,
		WallMaxUsecs:  -1,
		ExecUID:       NoID,
		ExecGID:       NoID,
		LogLevel:      slog.LevelError,
		BwrapArgv:     []string{"bwrap"},
	}
}

/**
 * @return whether any of the four time thresholds is enabled.
 */
func (cfg *Config) hasTimeLimits() bool {
	return cfg.CPUHighUsecs >= 0 || cfg.CPUMaxUsecs >= 0 ||
		cfg.WallHighUsecs >= 0 || cfg.WallMaxUsecs >= 0
}
