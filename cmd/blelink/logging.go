package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/pkg/config"
)

// loadConfig reads --config and builds the logger.
//
// --log-level takes precedence over the file's log_level. Without either the
// logger stays at panic level, which keeps command output clean.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	explicit := path != ""
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = lvl
			explicit = true
		default:
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", lvl)
		}
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	if !explicit {
		logger.SetLevel(logrus.PanicLevel)
	}
	return cfg, logger, nil
}
