package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/echenim/Bedrock/contracts/internal/gas"
	"github.com/echenim/Bedrock/contracts/internal/types"
)

// Duration wraps time.Duration to support TOML string unmarshaling (e.g. "3s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the full node configuration.
type Config struct {
	Moniker string `toml:"moniker"`

	Execution ExecutionConfig `toml:"execution"`
	Schedule  gas.Schedule    `toml:"schedule"`
	Storage   StorageConfig   `toml:"storage"`
	RPC       RPCConfig       `toml:"rpc"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ExecutionConfig holds execution engine parameters.
type ExecutionConfig struct {
	// GasPrice is the balance charged per unit of gas. Zero disables fees.
	GasPrice uint64 `toml:"gas_price"`
	// FeeCollector receives the fee for consumed gas (hex address).
	FeeCollector string `toml:"fee_collector"`
	// RentCollector receives storage rent paid by contracts (hex address).
	RentCollector string `toml:"rent_collector"`
	// CodeCacheSize is the number of compiled modules kept in memory.
	CodeCacheSize int `toml:"code_cache_size"`
	// RequestTimeout bounds how long an RPC request waits for the executive.
	RequestTimeout Duration `toml:"request_timeout"`
}

// StorageConfig holds storage parameters.
type StorageConfig struct {
	DBPath  string `toml:"db_path"`
	Backend string `toml:"backend"`
}

// RPCConfig holds RPC server parameters.
type RPCConfig struct {
	GRPCAddr string `toml:"grpc_addr"`
	HTTPAddr string `toml:"http_addr"`

	// AdminAddr serves operator endpoints. Empty disables them.
	AdminAddr string `toml:"admin_addr"`
}

// TelemetryConfig holds observability parameters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	LogMode  string `toml:"log_mode"`
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Moniker: "contracts-node",
		Execution: ExecutionConfig{
			GasPrice:       0,
			FeeCollector:   types.ZeroAddress.String(),
			RentCollector:  types.ZeroAddress.String(),
			CodeCacheSize:  256,
			RequestTimeout: Duration{10 * time.Second},
		},
		Schedule: gas.DefaultSchedule(),
		Storage: StorageConfig{
			DBPath:  "data/state",
			Backend: "pebble",
		},
		RPC: RPCConfig{
			GRPCAddr:  "0.0.0.0:27657",
			HTTPAddr:  "0.0.0.0:27658",
			AdminAddr: "127.0.0.1:27661",
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Addr:     "0.0.0.0:27660",
			LogMode:  "production",
			LogLevel: "info",
		},
	}
}

// Validate checks config for invalid values.
func (c *Config) Validate() error {
	if c.Moniker == "" {
		return errors.New("config: moniker must not be empty")
	}

	// Execution.
	if _, err := types.AddressFromHex(c.Execution.FeeCollector); err != nil {
		return fmt.Errorf("config: execution.fee_collector: %w", err)
	}
	if _, err := types.AddressFromHex(c.Execution.RentCollector); err != nil {
		return fmt.Errorf("config: execution.rent_collector: %w", err)
	}
	if c.Execution.CodeCacheSize <= 0 {
		return errors.New("config: execution.code_cache_size must be > 0")
	}
	if c.Execution.RequestTimeout.Duration <= 0 {
		return errors.New("config: execution.request_timeout must be > 0")
	}

	// Schedule.
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Storage.
	if c.Storage.DBPath == "" {
		return errors.New("config: storage.db_path must not be empty")
	}
	validBackends := map[string]bool{"pebble": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("config: storage.backend must be 'pebble' or 'memory', got %q", c.Storage.Backend)
	}

	// RPC.
	if c.RPC.GRPCAddr == "" {
		return errors.New("config: rpc.grpc_addr must not be empty")
	}

	// Telemetry.
	validModes := map[string]bool{"development": true, "dev": true, "production": true, "prod": true}
	if !validModes[c.Telemetry.LogMode] {
		return fmt.Errorf("config: telemetry.log_mode must be 'development' or 'production', got %q", c.Telemetry.LogMode)
	}

	return nil
}

// FeeCollectorAddress returns the parsed fee collector. Validate must have
// succeeded.
func (c *Config) FeeCollectorAddress() types.Address {
	a, _ := types.AddressFromHex(c.Execution.FeeCollector)
	return a
}

// RentCollectorAddress returns the parsed rent collector. Validate must have
// succeeded.
func (c *Config) RentCollectorAddress() types.Address {
	a, _ := types.AddressFromHex(c.Execution.RentCollector)
	return a
}
