package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, "builtin", c.Source())
	assert.Equal(t, "claude-sonnet-4-5-20250929", c.Default().ID)
	m, ok := c.Get("CLAUDE-OPUS-4-6")
	require.True(t, ok)
	assert.Equal(t, "Claude Opus 4.6", m.Name)
	_, ok = c.Get("gpt-2")
	assert.False(t, ok)
	assert.Len(t, c.List(), 4)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - id: gpt-4o
    provider: openai
  - id: gemini-2.5-flash
    name: Gemini Flash
    provider: gemini
    default: true
  - id: gpt-4o
    name: duplicate
  - id: "  "
`), 0o644))

	c := New()
	n, err := c.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, path, c.Source())
	assert.Equal(t, "gemini-2.5-flash", c.Default().ID)
	m, ok := c.Get("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", m.Name, "name defaults to id")
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[models]]
id = "claude-haiku-4-5"
provider = "anthropic"

[[models]]
id = "loopback"
name = "Echo"
default = true
`), 0o644))

	c := New()
	n, err := c.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "loopback", c.Default().ID)
	assert.Equal(t, "Echo", c.Default().Name)
	m, ok := c.Get("CLAUDE-HAIKU-4-5")
	require.True(t, ok)
	assert.Equal(t, "anthropic", m.Provider)
}

func TestLoadErrorsKeepPreviousList(t *testing.T) {
	dir := t.TempDir()
	c := New()

	_, err := c.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("models: []\n"), 0o644))
	_, err = c.Load(empty)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("models: [\n"), 0o644))
	_, err = c.Load(bad)
	assert.Error(t, err)

	assert.Equal(t, "builtin", c.Source())
	assert.Len(t, c.List(), 4)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: first\n"), 0o644))

	c := New()
	_, err := c.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, path) }()

	// give the watcher time to register before writing
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("models:\n  - id: second\n"), 0o644)
		_, ok := c.Get("second")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
