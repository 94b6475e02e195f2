package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blebatt/pkg/config"
)

// configureLogger creates a logger from the config, with --log-level taking
// precedence over log_level. Logging is silent unless a level is set.
// The returned file, if any, must be closed by the caller.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, *os.File, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = lvl
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", lvl)
		}
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	path, _ := cmd.Flags().GetString("log-file")
	if path == "" {
		return logger, nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, f, nil
}
