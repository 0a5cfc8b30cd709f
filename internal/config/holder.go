package config

import "sync"

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. The watch loop reloads through it and the engine's
// settings source reads through it, so a reload updates both at once.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
	env  EnvOverrides
	cli  CLIOverrides
}

// NewHolder creates a Holder with the initial config and the overrides to
// re-apply on reload.
func NewHolder(cfg *Config, path string, env EnvOverrides, cli CLIOverrides) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
		env:  env,
		cli:  cli,
	}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload re-reads the file. On error the previous config stays in effect.
func (h *Holder) Reload() error {
	cfg, err := Reload(h.path, h.env, h.cli)
	if err != nil {
		return err
	}

	h.Update(cfg)

	return nil
}
