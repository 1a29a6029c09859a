package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/echenim/Bedrock/contracts/internal/node"
	"github.com/echenim/Bedrock/contracts/internal/telemetry"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the execution node",
		RunE:  runStart,
	}

	cmd.Flags().String("config", "", "path to config file (default: <home>/config.toml)")
	cmd.Flags().String("genesis", "", "path to genesis file (default: <home>/genesis.json)")
	cmd.Flags().String("log-mode", "", "log mode: development or production (overrides config)")
	cmd.Flags().String("log-level", "", "log level (overrides config)")

	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	homeDir, _ := cmd.Flags().GetString("home")
	configPath, _ := cmd.Flags().GetString("config")
	genesisPath, _ := cmd.Flags().GetString("genesis")

	cfg, err := loadNodeConfig(homeDir, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("log-mode"); v != "" {
		cfg.Telemetry.LogMode = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Telemetry.LogLevel = v
	}

	// Setup logger.
	logger, err := telemetry.NewLogger(cfg.Telemetry.LogMode, cfg.Telemetry.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	gen, err := loadNodeGenesis(homeDir, genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	// Create and start node.
	n, err := node.NewNode(cfg, gen, logger)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	// Handle OS signals for graceful shutdown.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		n.Stop()
		return fmt.Errorf("start node: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Execution node started. Press Ctrl+C to stop.")

	// Wait for shutdown signal.
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutdown signal received...")

	return n.Stop()
}
