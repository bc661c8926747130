// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Configuration snapshot store with hot-reload propagation.

package control

import (
	"slices"
	"sync"
)

// ConfigStore holds the active configuration and notifies listeners when it
// is replaced.
type ConfigStore struct {
	mu        sync.RWMutex
	config    *Config
	listeners []func(old, cur *Config)
}

// NewConfigStore starts with cfg, or the defaults when cfg is nil.
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ConfigStore{config: cfg}
}

// Snapshot returns a copy of the active configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c := *cs.config
	c.Pool.Affinity = append([]int(nil), cs.config.Pool.Affinity...)
	return c
}

// OnReload registers fn, called synchronously after every Swap.
func (cs *ConfigStore) OnReload(fn func(old, cur *Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Swap validates cfg, makes it active and runs the reload listeners.
func (cs *ConfigStore) Swap(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	old := cs.config
	cs.config = cfg
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}

// Reload reads path and swaps it in.
func (cs *ConfigStore) Reload(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return cs.Swap(cfg)
}
