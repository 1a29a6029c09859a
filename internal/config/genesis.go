package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// GenesisDoc defines the initial account balances of a node.
type GenesisDoc struct {
	ChainID     string           `json:"chain_id"`
	GenesisTime time.Time        `json:"genesis_time"`
	Accounts    []GenesisAccount `json:"accounts"`
}

// GenesisAccount funds one account at genesis.
type GenesisAccount struct {
	Address string `json:"address"`
	Balance string `json:"balance"` // decimal
}

// LoadGenesis reads and validates a genesis file from the given path.
func LoadGenesis(path string) (*GenesisDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read file: %w", err)
	}

	var gen GenesisDoc
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("genesis: parse JSON: %w", err)
	}

	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	return &gen, nil
}

// WriteGenesis writes gen as indented JSON.
func WriteGenesis(path string, gen *GenesisDoc) error {
	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return fmt.Errorf("genesis: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("genesis: write file: %w", err)
	}
	return nil
}

// Validate checks the genesis document for structural validity.
func (g *GenesisDoc) Validate() error {
	if g.ChainID == "" {
		return errors.New("chain_id must not be empty")
	}
	if g.GenesisTime.IsZero() {
		return errors.New("genesis_time must not be zero")
	}

	seen := make(map[types.Address]bool, len(g.Accounts))
	for i, a := range g.Accounts {
		addr, err := types.AddressFromHex(a.Address)
		if err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
		if seen[addr] {
			return fmt.Errorf("account %d: duplicate address %s", i, addr)
		}
		seen[addr] = true
		if _, err := types.BalanceFromDecimal(a.Balance); err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
	}
	return nil
}

// Balances returns the parsed genesis balances. Validate must have succeeded.
func (g *GenesisDoc) Balances() (map[types.Address]*uint256.Int, error) {
	out := make(map[types.Address]*uint256.Int, len(g.Accounts))
	for i, a := range g.Accounts {
		addr, err := types.AddressFromHex(a.Address)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		bal, err := types.BalanceFromDecimal(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		out[addr] = bal
	}
	return out, nil
}
