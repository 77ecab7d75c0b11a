package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tailored-agentic-units/dispatch/agent"
	"github.com/tailored-agentic-units/dispatch/checkpoint"
)

const (
	defaultMaxSteps          = 25
	defaultCompletionRetries = 1
	defaultToolConcurrency   = 4
	defaultObserver          = "slog"
)

// Config holds initialization parameters for the engine and the
// subsystems it creates.
//
// MaxSteps bounds the transitions of one Submit or Resume call. Zero keeps
// the default; a negative value means unlimited. CompletionRetries follows
// the same rule with negative meaning no retry. MaxCorrections caps
// degenerate-completion corrections per reason step; zero means unbounded.
type Config struct {
	MaxSteps          int                     `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	CompletionRetries int                     `json:"completion_retries,omitempty" yaml:"completion_retries,omitempty"`
	MaxCorrections    int                     `json:"max_corrections,omitempty" yaml:"max_corrections,omitempty"`
	KeepCorrections   bool                    `json:"keep_corrections,omitempty" yaml:"keep_corrections,omitempty"`
	ToolConcurrency   int                     `json:"tool_concurrency,omitempty" yaml:"tool_concurrency,omitempty"`
	Observer          string                  `json:"observer,omitempty" yaml:"observer,omitempty"`
	Checkpoint        checkpoint.Config       `json:"checkpoint" yaml:"checkpoint"`
	Agent             agent.Config            `json:"agent" yaml:"agent"`
	Agents            map[string]agent.Config `json:"agents,omitempty" yaml:"agents,omitempty"`
	Catalog           string                  `json:"catalog,omitempty" yaml:"catalog,omitempty"`
}

// DefaultConfig returns a Config with defaults for every subsystem.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          defaultMaxSteps,
		CompletionRetries: defaultCompletionRetries,
		ToolConcurrency:   defaultToolConcurrency,
		Observer:          defaultObserver,
		Checkpoint:        checkpoint.DefaultConfig(),
		Agent:             agent.DefaultConfig(),
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Checkpoint.Merge(&source.Checkpoint)
	c.Agent.Merge(&source.Agent)

	if source.MaxSteps != 0 {
		c.MaxSteps = source.MaxSteps
	}
	if source.CompletionRetries != 0 {
		c.CompletionRetries = source.CompletionRetries
	}
	if source.MaxCorrections > 0 {
		c.MaxCorrections = source.MaxCorrections
	}
	if source.KeepCorrections {
		c.KeepCorrections = true
	}
	if source.ToolConcurrency > 0 {
		c.ToolConcurrency = source.ToolConcurrency
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.Catalog != "" {
		c.Catalog = source.Catalog
	}

	if len(source.Agents) > 0 {
		c.Agents = source.Agents
	}
}

// LoadConfig reads a JSON or YAML config file (chosen by extension), merges
// it with defaults, and returns the resulting Config. A relative catalog
// or checkpoint path is resolved against the config file's directory.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &loaded)
	default:
		err = json.Unmarshal(data, &loaded)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	dir := filepath.Dir(filename)
	loaded.Catalog = resolve(dir, loaded.Catalog)
	loaded.Checkpoint.Path = resolve(dir, loaded.Checkpoint.Path)

	cfg.Merge(&loaded)
	return &cfg, nil
}

func resolve(dir, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
