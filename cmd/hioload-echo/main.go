// File: cmd/hioload-echo/main.go
// Package main
// Echo service and load generator built on hioload-core threads and sockets.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-core/control"
	"github.com/momentics/hioload-core/report"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "hioload-echo",
	Short:         "Thread-per-connection TCP echo service",
	Long:          "Run a TCP echo server on hioload-core or drive one with a thread pool based load generator.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
}

// loadConfig reads --config, or returns the defaults when it is unset, and
// installs the configured logger.
func loadConfig() (*control.Config, error) {
	cfg := control.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = control.LoadConfig(configFile); err != nil {
			return nil, err
		}
	}
	if err := applyLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyLogger(cfg *control.Config) error {
	l, err := cfg.Logger(os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	report.SetLogger(l)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
