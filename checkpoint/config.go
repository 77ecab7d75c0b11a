package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Config selects the checkpoint backend.
type Config struct {
	Store string `json:"store,omitempty" yaml:"store,omitempty"` // memory, file, sqlite, or a registered name
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`   // directory for file, database path for sqlite
}

// DefaultConfig returns the in-memory configuration.
func DefaultConfig() Config {
	return Config{Store: KindMemory}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Store != "" {
		c.Store = source.Store
	}
	if source.Path != "" {
		c.Path = source.Path
	}
}

// Factory builds a Store from configuration.
type Factory func(ctx context.Context, cfg *Config) (Store, error)

var (
	factories = map[string]Factory{
		KindMemory: func(context.Context, *Config) (Store, error) {
			return NewMemoryStore(), nil
		},
		KindFile: func(_ context.Context, cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("file checkpoint store requires a path")
			}
			return NewFileStore(cfg.Path), nil
		},
		KindSQLite: func(ctx context.Context, cfg *Config) (Store, error) {
			if cfg.Path == "" {
				return nil, fmt.Errorf("sqlite checkpoint store requires a path")
			}
			return OpenSQLite(ctx, cfg.Path)
		},
	}
	mutex sync.RWMutex
)

// Register adds or replaces a named backend.
func Register(name string, factory Factory) {
	mutex.Lock()
	defer mutex.Unlock()

	factories[name] = factory
}

// New builds the Store named by cfg.Store.
func New(ctx context.Context, cfg *Config) (Store, error) {
	name := cfg.Store
	if name == "" {
		name = KindMemory
	}

	mutex.RLock()
	factory, exists := factories[name]
	mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return factory(ctx, cfg)
}
