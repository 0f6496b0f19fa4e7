//go:build linux

package options

import (
	"fmt"
	"strconv"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/supervisor"
	"github.com/inhies/go-bytesize"
)

/**
 * Binds one `--climit VAR VALUE` pair. The special names time.high and
 * time.max set the CPU watchdog thresholds; every other name becomes a
 * literal cgroup control write.
 * @param cfg the configuration under construction
 * @param name the control name
 * @param value the control value
 * @return error if any
 */
func applyClimit(cfg *supervisor.Config, name, value string) error {
	switch name {
	case "time.high", "time.max":
		usecs, err := parseTimeUsecs(value)
		if err != nil {
			return fmt.Errorf("bad --climit %s: %w", name, err)
		}
		if name == "time.high" {
			cfg.CPUHighUsecs = usecs
		} else {
			cfg.CPUMaxUsecs = usecs
		}
	default:
		v, err := parseValue(value)
		if err != nil {
			return fmt.Errorf("bad --climit %s: %w", name, err)
		}
		cfg.CgroupLimits = append(cfg.CgroupLimits, cgroup.Limit{Name: name, Value: v})
	}
	return nil
}

/**
 * Parses a limit value: a plain decimal integer, or a human-readable byte
 * size such as "512MB".
 * @param s the string to parse
 * @return the parsed value and error if any
 */
func parseValue(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	v, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return uint64(v), nil
}

/**
 * Parses a time threshold in microseconds.
 * @param s the string to parse
 * @return the parsed value and error if any
 */
func parseTimeUsecs(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid microsecond value %q", s)
	}
	return v, nil
}

/**
 * Parses a uid or gid.
 * @param s the string to parse
 * @return the parsed id and error if any
 */
func parseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint32(v), nil
}
