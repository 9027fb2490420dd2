package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thin-edge/tedge-core/pkg/config"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/telemetry"
)

var (
	// Version is stamped via ldflags at build time.
	Version = "dev"

	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tedge-agent",
	Short:   "Edge-device agent bridging local device traffic to a cloud IoT backend",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/tedge/tedge.toml", "path to the agent's TOML config file")
}

// runAgent loads the on-disk config, brings up logging and tracing, then
// builds and runs the agent until a signal or an unrecoverable actor failure
// tells it to stop.
func runAgent(cmd *cobra.Command, _ []string) error {
	var cfg AgentConfig
	if err := config.LoadTOML(configPath, &cfg); err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	log := logger.Init(cfg.Logger)
	log.Info("starting tedge-agent", "version", Version, "config", configPath)

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Error("telemetry shutdown error", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := buildAgent(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent exited: %w", err)
	}
	log.Info("tedge-agent stopped")
	return nil
}
