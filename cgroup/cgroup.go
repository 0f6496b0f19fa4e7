//go:build linux

package cgroup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const Root = "/sys/fs/cgroup"

/**
 * A single cgroup control setting. The name is the relative filename
 * beneath the cgroup directory (e.g. "memory.max").
 */
type Limit struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

/**
 * A cgroup v2 directory owned by the supervisor, with an open directory
 * file descriptor for use with SysProcAttr.CgroupFD.
 */
type Cgroup struct {

	// Absolute path under /sys/fs/cgroup.
	path string

	// Directory file descriptor.
	fd int
}

/**
 * Interprets a user-supplied cgroup name as an absolute path.
 * Relative names are placed under /sys/fs/cgroup.
 * @param name the cgroup name
 * @return the absolute cgroup path
 */
func Normalize(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return filepath.Join(Root, name)
}

/**
 * Reports whether the cgroup directory exists.
 */
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

/**
 * Creates the cgroup directory and opens a directory fd so children can
 * be cloned directly into the cgroup.
 * @param path the absolute cgroup path
 * @return the cgroup handle, or an error if any
 */
func Create(path string) (*Cgroup, error) {
	if err := os.Mkdir(path, 0o775); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, err)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("open cgroup directory fd: %w", err)
	}
	return &Cgroup{path: path, fd: fd}, nil
}

/**
 * @return the absolute cgroup path.
 */
func (c *Cgroup) Path() string {
	return c.path
}

/**
 * @return the cgroup directory fd for SysProcAttr.CgroupFD.
 */
func (c *Cgroup) FD() int {
	return c.fd
}

/**
 * Writes the given control settings beneath the cgroup directory, in
 * supplied order. The first failure aborts; teardown still removes the
 * partially configured cgroup.
 * @param limits the control settings to write
 * @return error if any
 */
func (c *Cgroup) SetLimits(limits []Limit) error {
	for _, l := range limits {
		value := strconv.FormatUint(l.Value, 10)
		file := filepath.Join(c.path, l.Name)
		if err := os.WriteFile(file, []byte(value), 0o664); err != nil {
			return fmt.Errorf("write %s=%s: %w", file, value, err)
		}
	}
	return nil
}

/**
 * Closes the directory fd and tears the cgroup down.
 * @return error if any
 */
func (c *Cgroup) Destroy() error {
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}
	return KillAndDestroy(c.path)
}

/**
 * Migrates a pid into the cgroup by writing it to cgroup.procs.
 * @param path the absolute cgroup path
 * @param pid the pid to migrate
 * @return error if any
 */
func Migrate(path string, pid int) error {
	file := filepath.Join(path, "cgroup.procs")
	if err := os.WriteFile(file, []byte(strconv.Itoa(pid)+"\n"), 0o664); err != nil {
		return fmt.Errorf("attach pid %d to cgroup: %w", pid, err)
	}
	return nil
}

/**
 * Reads the cumulative CPU usage of the cgroup from cpu.stat.
 * The usage_usec field is accepted at any line position.
 * @param path the absolute cgroup path
 * @return the usage in microseconds, or -1 if the cgroup is gone
 */
func CPUTimeUsecs(path string) int64 {
	data, err := os.ReadFile(filepath.Join(path, "cpu.stat"))
	if err != nil {
		return -1
	}
	usecs, ok := parseUsageUsec(data)
	if !ok {
		return -1
	}
	return usecs
}

/**
 * Extracts the usage_usec field from cpu.stat contents.
 * @param data the file contents
 * @return the value and whether it was found
 */
func parseUsageUsec(data []byte) (int64, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 || fields[0] != "usage_usec" {
			continue
		}
		usecs, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return usecs, true
	}
	return 0, false
}

/**
 * Kills every member of the cgroup and removes its directory. A no-op if
 * the directory does not exist, which makes the teardown path idempotent.
 *
 * Writing "1" to cgroup.kill (kernel >= 5.14) SIGKILLs all members
 * atomically; removal is only legal once the membership set is empty.
 * Each poll of cgroup.procs costs a syscall and the set drains within
 * microseconds, so no sleep is inserted between polls.
 * @param path the absolute cgroup path
 * @return error if any
 */
func KillAndDestroy(path string) error {
	if !Exists(path) {
		return nil
	}

	if err := os.WriteFile(filepath.Join(path, "cgroup.kill"), []byte("1"), 0o664); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kill cgroup %s: %w", path, err)
	}

	// Wait for the membership to drain.
	procs := filepath.Join(path, "cgroup.procs")
	for {
		data, err := os.ReadFile(procs)
		if err != nil || len(bytes.TrimSpace(data)) == 0 {
			break
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rmdir %s: %w", path, err)
	}
	return nil
}
