//go:build linux

package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/rlimit"
)

/**
 * Replaces the supervisor process with bwrap. Used when cgroup mode is
 * off: rlimits and the identity switch apply in-process and no child is
 * needed.
 * @param cfg the supervisor configuration
 * @return the exec error; a successful exec does not return
 */
func ExecDirect(cfg *Config) error {
	if err := ensureIDSwitchAllowed(cfg); err != nil {
		return err
	}
	if err := rlimit.Apply(cfg.ExecLimits); err != nil {
		return err
	}
	if err := switchIDs(cfg.ExecUID, cfg.ExecGID); err != nil {
		return err
	}
	return execCommand(cfg.BwrapArgv)
}

/**
 * Starts the bwrap child. The clone places it directly into the cgroup
 * (CLONE_INTO_CGROUP via the directory fd) and arranges for the kernel to
 * SIGKILL it if the supervisor dies. Child-side setup that must precede
 * the exec — rlimits and the uid/gid switch — runs in the shim stage.
 *
 * On kernels without CLONE_INTO_CGROUP the clone fails; the child is then
 * started outside the cgroup and the shim writes its own pid to
 * cgroup.procs before the exec, so membership still precedes bwrap.
 * @param cfg the supervisor configuration
 * @param cg the configured cgroup
 * @return the started command, or an error if any
 */
func spawnChild(cfg *Config, cg *cgroup.Cgroup) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve own executable: %w", err)
	}

	cmd := buildChildCmd(exe, cfg, cg, true)
	if err := cmd.Start(); err != nil {
		cmd = buildChildCmd(exe, cfg, cg, false)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("cannot start child: %w", err)
		}
		slog.Warn("clone into cgroup unavailable, child joins via cgroup.procs")
	}
	return cmd, nil
}

/**
 * Builds the shim invocation for the bwrap child.
 * @param exe the supervisor's own executable
 * @param cfg the supervisor configuration
 * @param cg the configured cgroup
 * @param intoCgroup whether the clone itself places the child in the
 *        cgroup; otherwise the shim is told to join it by pid
 * @return the command, ready to start
 */
func buildChildCmd(exe string, cfg *Config, cg *cgroup.Cgroup, intoCgroup bool) *exec.Cmd {
	args := []string{ShimCommand}
	if !intoCgroup {
		args = append(args, "--cgroup", cg.Path())
	}
	for _, l := range cfg.ExecLimits {
		args = append(args, "--rlimit", fmt.Sprintf("%s=%d", l.Name, l.Value))
	}
	if cfg.ExecUID != NoID {
		args = append(args, "--setuid", strconv.FormatUint(uint64(cfg.ExecUID), 10))
	}
	if cfg.ExecGID != NoID {
		args = append(args, "--setgid", strconv.FormatUint(uint64(cfg.ExecGID), 10))
	}
	args = append(args, "--")
	args = append(args, cfg.BwrapArgv...)

	cmd := exec.Command(exe, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
	if intoCgroup {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = cg.FD()
	}
	return cmd
}
