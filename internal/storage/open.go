package storage

import (
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/config"
)

// OpenStore opens the backend selected by cfg.
func OpenStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemStore(), nil
	case "pebble":
		return OpenPebble(cfg.DBPath)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
