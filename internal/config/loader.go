package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LoadFile reads and parses a TOML config file, applies environment variable
// overrides, and validates the result.
// Config precedence: File → Environment variables → Defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse TOML: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WriteFile writes cfg as TOML to path.
func WriteFile(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal TOML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies CONTRACTS_* environment variable overrides.
// Env var format: CONTRACTS_<SECTION>_<FIELD> (e.g., CONTRACTS_STORAGE_BACKEND).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTRACTS_MONIKER"); v != "" {
		cfg.Moniker = v
	}

	// Execution.
	if v := os.Getenv("CONTRACTS_EXECUTION_GAS_PRICE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Execution.GasPrice = n
		}
	}
	if v := os.Getenv("CONTRACTS_EXECUTION_FEE_COLLECTOR"); v != "" {
		cfg.Execution.FeeCollector = v
	}
	if v := os.Getenv("CONTRACTS_EXECUTION_RENT_COLLECTOR"); v != "" {
		cfg.Execution.RentCollector = v
	}
	if v := os.Getenv("CONTRACTS_EXECUTION_CODE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Execution.CodeCacheSize = n
		}
	}
	if v := os.Getenv("CONTRACTS_EXECUTION_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Execution.RequestTimeout = Duration{d}
		}
	}

	// Schedule limits most often tuned per deployment.
	if v := os.Getenv("CONTRACTS_SCHEDULE_MAX_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Schedule.MaxDepth = uint32(n)
		}
	}
	if v := os.Getenv("CONTRACTS_SCHEDULE_MAX_CODE_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Schedule.MaxCodeSize = uint32(n)
		}
	}

	if v := os.Getenv("CONTRACTS_SCHEDULE_MAX_WASM_STACK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Schedule.MaxWasmStack = n
		}
	}

	// Storage.
	if v := os.Getenv("CONTRACTS_STORAGE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CONTRACTS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}

	// RPC.
	if v := os.Getenv("CONTRACTS_RPC_GRPC_ADDR"); v != "" {
		cfg.RPC.GRPCAddr = v
	}
	if v := os.Getenv("CONTRACTS_RPC_HTTP_ADDR"); v != "" {
		cfg.RPC.HTTPAddr = v
	}
	if v := os.Getenv("CONTRACTS_RPC_ADMIN_ADDR"); v != "" {
		cfg.RPC.AdminAddr = v
	}

	// Telemetry.
	if v := os.Getenv("CONTRACTS_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CONTRACTS_TELEMETRY_ADDR"); v != "" {
		cfg.Telemetry.Addr = v
	}
	if v := os.Getenv("CONTRACTS_TELEMETRY_LOG_MODE"); v != "" {
		cfg.Telemetry.LogMode = v
	}
	if v := os.Getenv("CONTRACTS_TELEMETRY_LOG_LEVEL"); v != "" {
		cfg.Telemetry.LogLevel = v
	}
}
