//go:build linux

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/rlimit"
	"golang.org/x/sys/unix"
)

/**
 * Hidden argv[1] marker selecting the child stage. The supervisor
 * re-executes its own binary with this marker so that rlimits and the
 * uid/gid switch happen in the child, after the clone placed it in the
 * cgroup but before bwrap runs.
 */
const ShimCommand = "_shim"

/**
 * Entry point of the child stage. Applies per-process limits, switches
 * identity, and replaces the process with bwrap. Never returns: failures
 * exit 255 directly so the parent's cleanup path stays untouched.
 * @param args the shim arguments (everything after the marker)
 */
func ShimMain(args []string) {
	var limits []rlimit.Limit
	var cgroupPath string
	uid, gid := NoID, NoID
	var argv []string

scan:
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--cgroup":
			i++
			if i >= len(args) {
				shimFail(errors.New("--cgroup: missing argument"))
			}
			cgroupPath = args[i]
		case "--rlimit":
			i++
			if i >= len(args) {
				shimFail(errors.New("--rlimit: missing argument"))
			}
			name, value, ok := strings.Cut(args[i], "=")
			if !ok {
				shimFail(fmt.Errorf("--rlimit: malformed pair %q", args[i]))
			}
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				shimFail(fmt.Errorf("--rlimit %s: %w", name, err))
			}
			limits = append(limits, rlimit.Limit{Name: name, Value: v})
		case "--setuid":
			i++
			uid = shimParseID(args, i, "--setuid")
		case "--setgid":
			i++
			gid = shimParseID(args, i, "--setgid")
		case "--":
			argv = args[i+1:]
			break scan
		default:
			shimFail(fmt.Errorf("unexpected argument %q", args[i]))
		}
	}
	if len(argv) == 0 {
		shimFail(errors.New("missing command"))
	}

	// Join the cgroup first, so everything below — and the exec — is
	// already accounted. Only used when the clone itself could not place
	// the child in the cgroup.
	if cgroupPath != "" {
		if err := cgroup.Migrate(cgroupPath, os.Getpid()); err != nil {
			shimFail(err)
		}
	}

	if err := rlimit.Apply(limits); err != nil {
		shimFail(err)
	}
	if err := switchIDs(uid, gid); err != nil {
		shimFail(err)
	}

	// Exec only returns on failure.
	shimFail(execCommand(argv))
}

func shimParseID(args []string, i int, flag string) uint32 {
	if i >= len(args) {
		shimFail(fmt.Errorf("%s: missing argument", flag))
	}
	id, err := strconv.ParseUint(args[i], 10, 32)
	if err != nil {
		shimFail(fmt.Errorf("%s: %w", flag, err))
	}
	return uint32(id)
}

func shimFail(err error) {
	fmt.Fprintln(os.Stderr, "bwrapbox:", err)
	unix.Exit(255)
}

/**
 * Switches group then user identity. The syscall is skipped entirely when
 * the current id already matches the requested one.
 * @param uid the uid to assume, or NoID
 * @param gid the gid to assume, or NoID
 * @return error if any
 */
func switchIDs(uid, gid uint32) error {
	if gid != NoID && unix.Getgid() != int(gid) {
		if err := unix.Setgid(int(gid)); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}
	if uid != NoID && unix.Getuid() != int(uid) {
		if err := unix.Setuid(int(uid)); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}
	return nil
}

/**
 * Resolves argv[0] through PATH and replaces the current process.
 * @param argv the command to execute
 * @return the exec error; a successful exec does not return
 */
func execCommand(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("cannot find %s: %w", argv[0], err)
	}
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("cannot execute %s: %w", path, err)
	}
	return nil
}
