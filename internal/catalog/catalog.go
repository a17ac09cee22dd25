// Package catalog lists the models a client may pick from. The list comes
// from a YAML or TOML file and falls back to a built-in set.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Model describes one selectable model.
type Model struct {
	ID              string `yaml:"id" toml:"id" json:"id"`
	Name            string `yaml:"name" toml:"name" json:"name"`
	Provider        string `yaml:"provider,omitempty" toml:"provider" json:"provider,omitempty"`
	MaxOutputTokens int    `yaml:"max_output_tokens,omitempty" toml:"max_output_tokens" json:"max_output_tokens,omitempty"`
	Default         bool   `yaml:"default,omitempty" toml:"default" json:"default,omitempty"`
}

type file struct {
	Models []Model `yaml:"models" toml:"models"`
}

// Defaults returns the built-in model list.
func Defaults() []Model {
	return []Model{
		{ID: "claude-sonnet-4-5-20250929", Name: "Claude Sonnet 4.5", Provider: "anthropic", MaxOutputTokens: 8192, Default: true},
		{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5", Provider: "anthropic", MaxOutputTokens: 8192},
		{ID: "claude-opus-4-6", Name: "Claude Opus 4.6", Provider: "anthropic", MaxOutputTokens: 8192},
		{ID: "loopback", Name: "Loopback (echo)", Provider: "loopback"},
	}
}

// Logger is a minimal logging interface.
type Logger interface {
	Printf(format string, args ...any)
}

// Catalog holds the current model list. It is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	models []Model
	source string
	logger Logger
}

// New returns a catalog holding the defaults.
func New() *Catalog {
	c := &Catalog{}
	c.apply(Defaults(), "builtin")
	return c
}

// SetLogger sets an optional logger for reload diagnostics.
func (c *Catalog) SetLogger(l Logger) {
	c.logger = l
}

// Load replaces the list with the models in the file at path and returns
// how many were loaded. Files ending in .toml are read as TOML, anything
// else as YAML.
func (c *Catalog) Load(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("catalog: empty path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f file
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(b, &f)
	} else {
		err = yaml.Unmarshal(b, &f)
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	models := make([]Model, 0, len(f.Models))
	seen := make(map[string]bool)
	for _, m := range f.Models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" || seen[strings.ToLower(m.ID)] {
			continue
		}
		seen[strings.ToLower(m.ID)] = true
		if m.Name == "" {
			m.Name = m.ID
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return 0, fmt.Errorf("catalog: %s lists no models", path)
	}
	c.apply(models, path)
	return len(models), nil
}

func (c *Catalog) apply(models []Model, src string) {
	c.mu.Lock()
	c.models = models
	c.source = src
	c.mu.Unlock()
}

// List returns a copy of the current models in file order.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Model(nil), c.models...)
}

// Get looks a model up by ID, case-insensitively.
func (c *Catalog) Get(id string) (Model, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if strings.ToLower(m.ID) == id {
			return m, true
		}
	}
	return Model{}, false
}

// Default returns the model flagged as default, or the first one.
func (c *Catalog) Default() Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.Default {
			return m
		}
	}
	if len(c.models) > 0 {
		return c.models[0]
	}
	return Model{}
}

// Source names where the current list came from.
func (c *Catalog) Source() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Watch reloads path whenever it changes until ctx is done. The parent
// directory is watched so that editors replacing the file are noticed. A
// file that fails to parse leaves the previous list in place.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("catalog: resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			n, err := c.Load(abs)
			if err != nil {
				c.logf("catalog: reload failed: %v", err)
				continue
			}
			c.logf("catalog: reloaded %d models from %s", n, abs)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logf("catalog: watcher error: %v", err)
		}
	}
}

func (c *Catalog) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
