//go:build linux

package rlimit

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

/**
 * A single per-process resource limit, named as `RESOURCE.high`
 * (soft limit) or `RESOURCE.max` (hard limit).
 */
type Limit struct {
	Name  string `json:"name"`
	Value uint64 `json:"value"`
}

/**
 * Canonical resource names mapped to the kernel's numeric resource ids.
 */
var resources = map[string]int{
	"cpu":        unix.RLIMIT_CPU,
	"fsize":      unix.RLIMIT_FSIZE,
	"data":       unix.RLIMIT_DATA,
	"stack":      unix.RLIMIT_STACK,
	"core":       unix.RLIMIT_CORE,
	"rss":        unix.RLIMIT_RSS,
	"nproc":      unix.RLIMIT_NPROC,
	"nofile":     unix.RLIMIT_NOFILE,
	"memlock":    unix.RLIMIT_MEMLOCK,
	"as":         unix.RLIMIT_AS,
	"locks":      unix.RLIMIT_LOCKS,
	"sigpending": unix.RLIMIT_SIGPENDING,
	"msgqueue":   unix.RLIMIT_MSGQUEUE,
	"nice":       unix.RLIMIT_NICE,
	"rtprio":     unix.RLIMIT_RTPRIO,
	"rttime":     unix.RLIMIT_RTTIME,
}

/**
 * Resolves a `RESOURCE.high|max` tuple name.
 * @param name the tuple name, e.g. "nofile.max"
 * @return the kernel resource id, whether the hard limit is addressed,
 *         and an error if the name is not a valid tuple
 */
func ParseName(name string) (int, bool, error) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return 0, false, fmt.Errorf("invalid rlimit name %q: expected RESOURCE.high or RESOURCE.max", name)
	}
	resource, suffix := name[:dot], name[dot+1:]

	id, ok := resources[resource]
	if !ok {
		return 0, false, fmt.Errorf("unknown rlimit resource %q", resource)
	}
	switch suffix {
	case "high":
		return id, false, nil
	case "max":
		return id, true, nil
	default:
		return 0, false, fmt.Errorf("invalid rlimit suffix %q: expected high or max", suffix)
	}
}

/**
 * Merges a new soft or hard value into an existing limit.
 * Setting the hard limit clamps the soft limit down to it.
 * @param old the limit currently in effect
 * @param hard whether the hard limit is addressed
 * @param value the new value
 * @return the limit to install
 */
func merge(old unix.Rlimit, hard bool, value uint64) unix.Rlimit {
	if hard {
		old.Max = value
		if old.Cur > old.Max {
			old.Cur = old.Max
		}
	} else {
		old.Cur = value
	}
	return old
}

/**
 * Applies the given limits to the current process, in order.
 * The untouched half of each limit is preserved.
 * @param limits the limits to apply
 * @return error if any
 */
func Apply(limits []Limit) error {
	for _, l := range limits {
		id, hard, err := ParseName(l.Name)
		if err != nil {
			return err
		}

		var rlim unix.Rlimit
		if err := unix.Getrlimit(id, &rlim); err != nil {
			return fmt.Errorf("getrlimit %s: %w", l.Name, err)
		}
		rlim = merge(rlim, hard, l.Value)
		if err := unix.Setrlimit(id, &rlim); err != nil {
			return fmt.Errorf("setrlimit %s=%d: %w", l.Name, l.Value, err)
		}
	}
	return nil
}
