//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/guidanoli/bwrapbox/logger"
	"github.com/guidanoli/bwrapbox/options"
	"github.com/guidanoli/bwrapbox/supervisor"
)

/**
 * Application entry point.
 */
func main() {
	// The hidden child stage applies rlimits and switches identity, then
	// execs into bwrap. It must be dispatched before any CLI handling.
	if len(os.Args) > 1 && os.Args[1] == supervisor.ShimCommand {
		supervisor.ShimMain(os.Args[2:])
	}

	// Parse command-line options.
	cfg, err := options.ParseCli(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parsing error:", err)
		os.Exit(255)
	}

	// Create the application logger.
	log := logger.CreateLogger(&logger.LoggerOpts{
		LogLevel:  cfg.LogLevel,
		LogFormat: cfg.LogFormat,
	})
	log.Debug("Configuration", slog.Any("cfg", cfg))

	// Run bwrap under supervision.
	code, err := supervisor.Run(cfg)
	if err != nil {
		log.Error("error while supervising bwrap", slog.Any("err", err))
		os.Exit(255)
	}

	os.Exit(code)
}
