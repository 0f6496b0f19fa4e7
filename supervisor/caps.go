//go:build linux

package supervisor

import (
	"fmt"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

/**
 * Verifies that the caller can actually switch to the requested identity,
 * so the failure surfaces as a supervisor error before any child is
 * spawned rather than as a dead child.
 * @param cfg the supervisor configuration
 * @return error if the switch would be denied
 */
func ensureIDSwitchAllowed(cfg *Config) error {
	if cfg.ExecUID == NoID && cfg.ExecGID == NoID {
		return nil
	}
	if unix.Geteuid() == 0 {
		return nil
	}

	// Get a capability handler for the current process (pid=0).
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("error getting process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("error loading process capabilities: %w", err)
	}

	if cfg.ExecGID != NoID && int(cfg.ExecGID) != unix.Getgid() &&
		!caps.Get(capability.EFFECTIVE, capability.CAP_SETGID) {
		return fmt.Errorf("switching to gid %d requires CAP_SETGID", cfg.ExecGID)
	}
	if cfg.ExecUID != NoID && int(cfg.ExecUID) != unix.Getuid() &&
		!caps.Get(capability.EFFECTIVE, capability.CAP_SETUID) {
		return fmt.Errorf("switching to uid %d requires CAP_SETUID", cfg.ExecUID)
	}
	return nil
}
