//go:build linux

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

/**
 * Skips the test if cgroup v2 is not available or the process is not
 * running as root.
 */
func SkipIfNoCgroupV2(t *testing.T) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("skipping: requires root")
	}
	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err != nil {
		t.Skip("skipping: cgroup v2 not available")
	}
}

/**
 * Returns a unique cgroup path for the test to create. Whatever is left
 * at that path is killed and removed when the test finishes.
 */
func ScratchCgroupPath(t *testing.T) string {
	t.Helper()
	SkipIfNoCgroupV2(t)

	path := filepath.Join("/sys/fs/cgroup", "bwrapbox-test-"+uuid.New().String())
	t.Cleanup(func() {
		if _, err := os.Stat(path); err != nil {
			return
		}
		_ = os.WriteFile(filepath.Join(path, "cgroup.kill"), []byte("1"), 0o664)
		_ = os.Remove(path)
	})
	return path
}
