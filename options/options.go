//go:build linux

package options

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/guidanoli/bwrapbox/cgroup"
	"github.com/guidanoli/bwrapbox/logger"
	"github.com/guidanoli/bwrapbox/rlimit"
	"github.com/guidanoli/bwrapbox/supervisor"
	"github.com/guidanoli/bwrapbox/version"
	"github.com/urfave/cli/v3"
)

/**
 * Builds the CLI surface. bwrapbox forwards unknown flags verbatim to
 * bwrap, a grammar no declarative flag parser expresses, so the command
 * exists for help rendering while the actual token scan is done by
 * ParseCli.
 * @return a `Command` instance
 */
func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "bwrapbox",
		Usage:     "Run bwrap under cgroup, rlimit and time constraints.",
		UsageText: "bwrapbox [OPTIONS...] [--] COMMAND [ARGS...]",
		Version:   version.Version(),
		Writer:    os.Stdout,

		SkipFlagParsing: true,
		Flags: []cli.Flag{

			// Cgroup mode
			&cli.StringFlag{
				Name:  "cgroup",
				Usage: "Run bwrap in the cgroup `NAME` (absolute, or relative to /sys/fs/cgroup)",
			},

			// Pre-destroy a leftover cgroup
			&cli.BoolFlag{
				Name:  "cgroup-overwrite",
				Usage: "Destroy the cgroup first if it already exists",
			},

			// Cgroup limits
			&cli.StringSliceFlag{
				Name:  "climit",
				Usage: "Set a cgroup control as `VAR VALUE` (time.high/time.max bind the CPU watchdog)",
			},

			// Per-process limits
			&cli.StringSliceFlag{
				Name:  "rlimit",
				Usage: "Set a per-process limit as `VAR VALUE` (VAR is RESOURCE.high or RESOURCE.max)",
			},

			// Wall-clock watchdog
			&cli.StringFlag{
				Name:  "climit-elapsed-high",
				Usage: "Wall-clock soft limit in `USECS`, delivered as SIGXCPU",
			},
			&cli.StringFlag{
				Name:  "climit-elapsed-max",
				Usage: "Wall-clock hard limit in `USECS`, delivered as SIGKILL",
			},

			// Identity
			&cli.StringFlag{
				Name:  "setuid",
				Usage: "`UID` to assume before executing bwrap",
			},
			&cli.StringFlag{
				Name:  "setgid",
				Usage: "`GID` to assume before executing bwrap",
			},

			// Verbosity
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the final summary line",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "error",
				Usage: "Log verbosity (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text|json)",
			},
		},
	}
}

/**
 * Parses the supervisor's argv into a configuration. A `--help` anywhere
 * (or an empty argv) prints the help text and yields a configuration that
 * hands control to `bwrap --help`.
 * @param args the full argv, position 0 included
 * @return the built configuration and error if any
 */
func ParseCli(args []string) (*supervisor.Config, error) {
	raw := args[1:]

	if len(raw) == 0 || slices.Contains(raw, "--help") {
		_ = cli.ShowAppHelp(buildCommand())
		cfg := supervisor.NewConfig()
		cfg.BwrapArgv = []string{"bwrap", "--help"}
		return cfg, nil
	}

	return scan(raw)
}

/**
 * Single left-to-right pass over the supervisor's argv. Recognized
 * supervisor options consume their argument slots; everything else —
 * including everything after `--` — is appended to the pass-through argv.
 * @param raw the argv tokens, position 0 excluded
 * @return the built configuration and error if any
 */
func scan(raw []string) (*supervisor.Config, error) {
	cfg := supervisor.NewConfig()
	passthrough := false

	for i := 0; i < len(raw); i++ {
		tok := raw[i]

		if passthrough {
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
			continue
		}

		switch tok {
		case "--":
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
			passthrough = true

		case "--cgroup":
			name, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			cfg.CgroupEnabled = true
			cfg.CgroupPath = cgroup.Normalize(name)

		case "--cgroup-overwrite":
			cfg.CgroupOverwrite = true

		case "--climit":
			name, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			if err := applyClimit(cfg, name, value); err != nil {
				return nil, err
			}

		case "--rlimit":
			name, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			if _, _, err := rlimit.ParseName(name); err != nil {
				return nil, err
			}
			v, err := parseValue(value)
			if err != nil {
				return nil, fmt.Errorf("bad --rlimit %s: %w", name, err)
			}
			cfg.ExecLimits = append(cfg.ExecLimits, rlimit.Limit{Name: name, Value: v})

		case "--climit-elapsed-high", "--climit-elapsed-max":
			if !cfg.CgroupEnabled {
				return nil, errors.New("enable cgroup to limit time")
			}
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			usecs, err := parseTimeUsecs(value)
			if err != nil {
				return nil, fmt.Errorf("bad %s: %w", tok, err)
			}
			if tok == "--climit-elapsed-high" {
				cfg.WallHighUsecs = usecs
			} else {
				cfg.WallMaxUsecs = usecs
			}

		case "--setuid":
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			id, err := parseID(value)
			if err != nil {
				return nil, fmt.Errorf("bad --setuid: %w", err)
			}
			cfg.ExecUID = id

		case "--setgid":
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			id, err := parseID(value)
			if err != nil {
				return nil, fmt.Errorf("bad --setgid: %w", err)
			}
			cfg.ExecGID = id

		case "--quiet":
			cfg.Quiet = true

		case "--log-level":
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			level, err := parseLogLevel(value)
			if err != nil {
				return nil, err
			}
			cfg.LogLevel = level

		case "--log-format":
			value, err := take(raw, &i, tok)
			if err != nil {
				return nil, err
			}
			format, err := parseLogFormat(value)
			if err != nil {
				return nil, err
			}
			cfg.LogFormat = format

		default:
			// Unknown flags pass through to bwrap.
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
		}
	}

	return cfg, nil
}

/**
 * Consumes the next argv slot.
 * @param raw the argv tokens
 * @param i the scan position, advanced on success
 * @param flag the flag consuming the slot, for the error message
 * @return the consumed token and error if any
 */
func take(raw []string, i *int, flag string) (string, error) {
	*i++
	if *i >= len(raw) {
		return "", fmt.Errorf("%s: missing argument", flag)
	}
	return raw[*i], nil
}

/**
 * Parse the log level from a string.
 * @param s the string to parse
 * @return the parsed log level and error if any
 */
func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelError, fmt.Errorf("unknown log level: %q", s)
	}
}

/**
 * Parse the log format from a string.
 * @param s the string to parse
 * @return the parsed log format and error if any
 */
func parseLogFormat(s string) (logger.LogFormat, error) {
	switch s {
	case "text":
		return logger.LogText, nil
	case "json":
		return logger.LogJSON, nil
	default:
		return logger.LogText, fmt.Errorf("unknown log format: %q", s)
	}
}
