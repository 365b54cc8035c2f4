// Package preamble holds the LaTeX preamble shared by every render.
//
// The Store is the only state shared across concurrent renders. It is loaded
// once at startup from <config dir>/preamble.tex (falling back to a built-in
// default) and replaced wholesale on reload. Readers never observe a partially
// written value.
package preamble

import (
	"context"
	"sync"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
)

// DefaultPreamble is used when no user preamble can be read.
const DefaultPreamble = `
\usepackage{amsmath}
\usepackage{amssymb}
\usepackage{amsfonts}
`

// ReloadHook runs after every successful reload with the new value.
type ReloadHook func(preamble string)

// Store holds the current preamble text.
type Store struct {
	mu    sync.RWMutex
	value string

	configDir string
	logger    logging.Logger
	metrics   *metrics.Metrics

	hooksMu sync.Mutex
	hooks   []ReloadHook
}

// NewStore creates a store holding initial. configDir is the override passed
// to ResolveConfigDir on every Reload; empty means the platform default.
func NewStore(initial, configDir string, logger logging.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		value:     initial,
		configDir: configDir,
		logger:    logger.WithComponent("preamble"),
		metrics:   m,
	}
}

// Get returns the current preamble.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the preamble.
func (s *Store) Set(v string) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// OnReload registers a hook run after each successful Reload.
func (s *Store) OnReload(hook ReloadHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Reload re-reads the preamble from disk. A missing or unreadable file
// yields DefaultPreamble and is not an error; only an unresolvable config
// directory fails, in which case the current value is kept.
func (s *Store) Reload(ctx context.Context) error {
	dir, err := ResolveConfigDir(s.configDir)
	if err != nil {
		s.metrics.PreambleReload(false)
		s.logger.Warn(ctx, err, "Could not resolve config directory, keeping current preamble")
		return errors.NewConfigError(errors.ErrCodeConfigDir, "could not resolve config directory", err)
	}

	value := Load(ctx, dir, s.logger)
	s.Set(value)
	s.metrics.PreambleReload(true)
	s.logger.Info(ctx, "Preamble reloaded", "config_dir", dir, "bytes", len(value))

	s.hooksMu.Lock()
	hooks := append([]ReloadHook(nil), s.hooks...)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(value)
	}
	return nil
}

// ConfigDir returns the resolved directory Reload reads from.
func (s *Store) ConfigDir() (string, error) {
	return ResolveConfigDir(s.configDir)
}
