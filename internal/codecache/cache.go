// Package codecache stores validated contract code and keeps recently used
// compiled modules in memory. Code is validated once, on upload; every later
// lookup reuses the persisted artifact without checking the code again.
package codecache

import (
	"fmt"
	"sync"

	"github.com/echenim/Bedrock/contracts/internal/crypto"
	"github.com/echenim/Bedrock/contracts/internal/sandbox"
	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/telemetry"
	"github.com/echenim/Bedrock/contracts/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrInvalidCode is returned by Upload for code that fails validation.
var ErrInvalidCode = sandbox.ErrInvalidCode

// CodeStore is the persistence a Cache needs. storage.Store satisfies it.
type CodeStore interface {
	PutCode(hash types.Hash, code []byte) error
	Code(hash types.Hash) ([]byte, error)
	PutArtifact(hash types.Hash, artifact []byte) error
	Artifact(hash types.Hash) ([]byte, error)
}

var _ CodeStore = (storage.Store)(nil)

// Cache maps code hashes to compiled modules.
type Cache struct {
	engine  *sandbox.Engine
	store   CodeStore
	modules *lru.Cache[types.Hash, *sandbox.Module]
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu sync.Mutex // serializes uploads and artifact loads
}

// New creates a cache holding at most size compiled modules in memory.
func New(engine *sandbox.Engine, store CodeStore, size int, logger *zap.Logger, metrics *telemetry.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if size <= 0 {
		return nil, fmt.Errorf("codecache: size must be positive, got %d", size)
	}
	modules, err := lru.New[types.Hash, *sandbox.Module](size)
	if err != nil {
		return nil, fmt.Errorf("codecache: %w", err)
	}
	return &Cache{
		engine:  engine,
		store:   store,
		modules: modules,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Upload validates code, persists it with its compiled artifact and returns
// its hash. Uploading known code returns the same hash without revalidating.
func (c *Cache) Upload(code []byte) (types.Hash, error) {
	hash := crypto.CodeHash(code)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.Code(hash)
	if err != nil {
		return types.ZeroHash, fmt.Errorf("codecache: read code %s: %w", hash, err)
	}
	if existing != nil {
		return hash, nil
	}

	m, err := c.engine.Compile(hash, code)
	if err != nil {
		return types.ZeroHash, err
	}
	artifact, err := c.engine.Serialize(m)
	if err != nil {
		return types.ZeroHash, fmt.Errorf("codecache: %w", err)
	}
	if err := c.store.PutArtifact(hash, artifact); err != nil {
		return types.ZeroHash, fmt.Errorf("codecache: store artifact %s: %w", hash, err)
	}
	// Code is written last: its presence marks a completed upload.
	if err := c.store.PutCode(hash, code); err != nil {
		return types.ZeroHash, fmt.Errorf("codecache: store code %s: %w", hash, err)
	}

	c.modules.Add(hash, m)
	c.metrics.CodeUploads.Inc()
	c.logger.Info("code uploaded",
		zap.String("code_hash", hash.String()),
		zap.Int("size", len(code)),
	)
	return hash, nil
}

// Get returns the compiled module for hash, or nil when no such code was
// uploaded.
func (c *Cache) Get(hash types.Hash) (*sandbox.Module, error) {
	if m, ok := c.modules.Get(hash); ok {
		c.metrics.CodeCacheHits.Inc()
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.modules.Get(hash); ok {
		c.metrics.CodeCacheHits.Inc()
		return m, nil
	}
	c.metrics.CodeCacheMisses.Inc()

	code, err := c.store.Code(hash)
	if err != nil {
		return nil, fmt.Errorf("codecache: read code %s: %w", hash, err)
	}
	if code == nil {
		return nil, nil
	}

	m, err := c.load(hash, code)
	if err != nil {
		return nil, err
	}
	c.modules.Add(hash, m)
	return m, nil
}

// load restores the module from its artifact. An artifact the engine cannot
// read (for instance one written by a different engine build) is rebuilt
// from the stored code, which already passed validation at upload.
func (c *Cache) load(hash types.Hash, code []byte) (*sandbox.Module, error) {
	artifact, err := c.store.Artifact(hash)
	if err != nil {
		return nil, fmt.Errorf("codecache: read artifact %s: %w", hash, err)
	}
	if artifact != nil {
		m, err := c.engine.Load(hash, len(code), artifact)
		if err == nil {
			return m, nil
		}
		c.logger.Warn("artifact unusable, rebuilding",
			zap.String("code_hash", hash.String()),
			zap.Error(err),
		)
	}

	m, err := c.engine.Compile(hash, code)
	if err != nil {
		return nil, fmt.Errorf("codecache: rebuild %s: %w", hash, err)
	}
	artifact, err = c.engine.Serialize(m)
	if err != nil {
		return nil, fmt.Errorf("codecache: %w", err)
	}
	if err := c.store.PutArtifact(hash, artifact); err != nil {
		return nil, fmt.Errorf("codecache: store artifact %s: %w", hash, err)
	}
	return m, nil
}

// Code returns the original bytes of an uploaded blob, or nil.
func (c *Cache) Code(hash types.Hash) ([]byte, error) {
	code, err := c.store.Code(hash)
	if err != nil {
		return nil, fmt.Errorf("codecache: read code %s: %w", hash, err)
	}
	return code, nil
}

// Len returns the number of modules held in memory.
func (c *Cache) Len() int { return c.modules.Len() }

// Purge drops every in-memory module. Persisted code and artifacts are kept.
func (c *Cache) Purge() { c.modules.Purge() }
