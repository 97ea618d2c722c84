/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"linklog/pkg/config"
	"linklog/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verboseLog bool
	debugLog   bool
	traceLog   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linklog",
	Short: "Log every URL posted in your Slack workspaces",
	Long: `linklog keeps a socket mode connection open to each configured Slack
workspace and records every URL posted in a channel to a SQLite url log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default $HOME/linklog/config/linklog.json or ./config.json)")
	flags.BoolVarP(&verboseLog, "verbose", "v", false, "log at info level")
	flags.BoolVarP(&debugLog, "debug", "d", false, "log at debug level")
	flags.BoolVarP(&traceLog, "trace", "t", false, "log at trace level, including transport traffic")
}

// loadRuntime reads the configuration and installs the process logger.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Logging.Level = logger.Verbosity(cfg.Logging.Level, verboseLog, debugLog, traceLog)

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, appLogger, nil
}
