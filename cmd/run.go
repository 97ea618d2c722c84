package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"linklog/pkg/channel"
	"linklog/pkg/channel/slack"
	"linklog/pkg/gateway"
	"linklog/pkg/metrics"
	"linklog/pkg/registry"
	"linklog/pkg/store"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to every workspace and log posted URLs",
	Long:  "Verifies each workspace's API token, loads its channel directory, opens the url log and serves every socket mode connection until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}
		log := appLogger.With("component", "cmd.run")

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg, err := registry.Build(runCtx, cfg, registry.SlackDialer(), appLogger)
		if err != nil {
			log.Error("Failed to build registry", "error", err)
			return err
		}

		st, err := store.Open(runCtx, reg.LogStoreTarget, appLogger)
		if err != nil {
			log.Error("Failed to open url log", "error", err)
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Warn("Failed to close url log", "error", err)
			}
		}()

		adapters, err := workspaceAdapters(reg, appLogger)
		if err != nil {
			log.Error("Workspace configuration invalid", "error", err)
			return err
		}

		svc, err := gateway.NewService(cfg, reg, st, adapters, metrics.New(), appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started", "workspaces", workspaceNames(adapters), "url_log", reg.LogStoreTarget)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func workspaceAdapters(reg *registry.Registry, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, len(reg.Workspaces))

	for _, ws := range reg.Workspaces {
		adapter, err := slack.NewAdapter(ws, log)
		if err != nil {
			return nil, fmt.Errorf("configure workspace %s: %w", ws.Name, err)
		}
		adapters = append(adapters, adapter)
	}

	return adapters, nil
}

func workspaceNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
