package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/config"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [moniker]",
		Short: "Initialize a new node home",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}

	cmd.Flags().String("chain-id", "contracts-devnet", "chain ID")
	cmd.Flags().String("backend", "pebble", "storage backend: pebble or memory")
	cmd.Flags().StringArray("account", nil, "genesis account as <hex address>=<balance> (repeatable)")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	moniker := args[0]
	homeDir, _ := cmd.Flags().GetString("home")
	chainID, _ := cmd.Flags().GetString("chain-id")
	backend, _ := cmd.Flags().GetString("backend")
	accounts, _ := cmd.Flags().GetStringArray("account")

	// Create home directory structure.
	if err := os.MkdirAll(filepath.Join(homeDir, "data"), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Write default config.
	cfg := config.DefaultConfig()
	cfg.Moniker = moniker
	cfg.Storage.Backend = backend
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.WriteFile(filepath.Join(homeDir, "config.toml"), cfg); err != nil {
		return err
	}

	// Write genesis.
	gen := &config.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: time.Now().UTC().Truncate(time.Second),
	}
	for _, a := range accounts {
		addr, bal, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("invalid account %q: want <address>=<balance>", a)
		}
		gen.Accounts = append(gen.Accounts, config.GenesisAccount{Address: addr, Balance: bal})
	}
	if err := gen.Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if err := config.WriteGenesis(filepath.Join(homeDir, "genesis.json"), gen); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized execution node\n")
	fmt.Fprintf(out, "  Home:     %s\n", homeDir)
	fmt.Fprintf(out, "  Chain:    %s\n", chainID)
	fmt.Fprintf(out, "  Moniker:  %s\n", moniker)
	fmt.Fprintf(out, "  Accounts: %d\n", len(gen.Accounts))
	fmt.Fprintf(out, "\nStart with: contractd start --home %s\n", homeDir)

	return nil
}
