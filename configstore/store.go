// Package configstore implements the kernel's per-module JSON configuration
// persistence layer (spec.md §4.4): one file per module under a configured
// directory, loaded eagerly at startup and shallow-merged on update.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cast"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Store holds one JSON document per module name, backed by a directory of
// "<module>.json" files.
type Store struct {
	logger Logger
	dir    string

	mu      sync.RWMutex
	configs map[string]map[string]any
}

// NewStore constructs a Store rooted at dir. The directory is created on
// first write if it does not already exist.
func NewStore(logger Logger, dir string) *Store {
	return &Store{
		logger:  logger,
		dir:     dir,
		configs: make(map[string]map[string]any),
	}
}

func (s *Store) path(moduleName string) string {
	return filepath.Join(s.dir, moduleName+".json")
}

// LoadAllConfigs reads every "*.json" file under the store's directory into
// memory, one file per goroutine. A missing directory is not an error: it
// simply yields no configs, matching a fresh install with no persisted
// overrides yet. LoadConfig guards s.configs itself, so the fan-out needs
// no coordination beyond the WaitGroup.
func (s *Store) LoadAllConfigs() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("configstore: failed to list %s: %w", s.dir, err)
	}

	var wg sync.WaitGroup
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		moduleName := entry.Name()[:len(entry.Name())-len(".json")]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.LoadConfig(moduleName); err != nil {
				s.logger.Warn("failed to load module config", "module", moduleName, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// LoadConfig reads a single module's config file into memory, returning an
// empty map (and caching it) if the file does not exist yet.
func (s *Store) LoadConfig(moduleName string) (map[string]any, error) {
	raw, err := os.ReadFile(s.path(moduleName))
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.configs[moduleName] = map[string]any{}
			s.mu.Unlock()
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("configstore: failed to read config for %s: %w", moduleName, err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("configstore: malformed config for %s: %w", moduleName, err)
	}

	s.mu.Lock()
	s.configs[moduleName] = data
	s.mu.Unlock()
	return data, nil
}

// GetConfig returns the in-memory config for a module, loading it from disk
// first if it has never been read.
func (s *Store) GetConfig(moduleName string) (map[string]any, error) {
	s.mu.RLock()
	data, ok := s.configs[moduleName]
	s.mu.RUnlock()
	if ok {
		return data, nil
	}
	return s.LoadConfig(moduleName)
}

// HasConfig reports whether a module has a config file on disk.
func (s *Store) HasConfig(moduleName string) bool {
	_, err := os.Stat(s.path(moduleName))
	return err == nil
}

// SaveConfig writes a module's full config to disk, replacing any existing
// file and the in-memory copy.
func (s *Store) SaveConfig(moduleName string, data map[string]any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("configstore: failed to create %s: %w", s.dir, err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: failed to marshal config for %s: %w", moduleName, err)
	}

	if err := os.WriteFile(s.path(moduleName), raw, 0o644); err != nil {
		return fmt.Errorf("configstore: failed to write config for %s: %w", moduleName, err)
	}

	s.mu.Lock()
	s.configs[moduleName] = data
	s.mu.Unlock()
	return nil
}

// UpdateConfig shallow-merges updates into the module's existing config
// (loading it first if necessary) and persists the result. Values are
// coerced through spf13/cast so that, e.g., a numeric override supplied as
// a string still lands as the type the existing key held.
func (s *Store) UpdateConfig(moduleName string, updates map[string]any) (map[string]any, error) {
	existing, err := s.GetConfig(moduleName)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}

	for k, v := range updates {
		if prior, ok := existing[k]; ok {
			coerced, err := coerceLike(prior, v)
			if err == nil {
				merged[k] = coerced
				continue
			}
		}
		merged[k] = v
	}

	if err := s.SaveConfig(moduleName, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// coerceLike casts v to the same Go type as prior, using spf13/cast.
func coerceLike(prior, v any) (any, error) {
	switch prior.(type) {
	case string:
		return cast.ToStringE(v)
	case float64:
		return cast.ToFloat64E(v)
	case int:
		return cast.ToIntE(v)
	case bool:
		return cast.ToBoolE(v)
	default:
		return v, nil
	}
}

// DeleteConfig removes a module's config file and its in-memory copy. Not
// an error if the file never existed.
func (s *Store) DeleteConfig(moduleName string) error {
	if err := os.Remove(s.path(moduleName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("configstore: failed to delete config for %s: %w", moduleName, err)
	}
	s.mu.Lock()
	delete(s.configs, moduleName)
	s.mu.Unlock()
	return nil
}
