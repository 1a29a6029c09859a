package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/echenim/Bedrock/contracts/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contractd",
		Short:         "Contract execution node",
		Long:          "Deterministic WASM smart-contract execution with metered gas and rent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("home", defaultHome(), "node home directory")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newInstantiateCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newEvictCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newAddressCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "contractd v%s\n", version)
		},
	}
}

// defaultHome returns the default node home directory.
func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contractd"
	}
	return filepath.Join(home, ".contractd")
}

// loadNodeConfig reads <home>/config.toml, falling back to defaults when it
// does not exist, and resolves the storage path against home.
func loadNodeConfig(homeDir, path string) (*config.Config, error) {
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.Storage.DBPath) {
		cfg.Storage.DBPath = filepath.Join(homeDir, cfg.Storage.DBPath)
	}
	return cfg, nil
}

// loadNodeGenesis reads the genesis file. A missing file yields nil.
func loadNodeGenesis(homeDir, path string) (*config.GenesisDoc, error) {
	if path == "" {
		path = filepath.Join(homeDir, "genesis.json")
	}
	gen, err := config.LoadGenesis(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return gen, err
}
