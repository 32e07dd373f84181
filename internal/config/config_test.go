package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, DefaultOpenStrategy, cfg.OpenStrategy)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.LogPath)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"open_strategy":"vsplit","log_level":"debug"}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "vsplit", cfg.OpenStrategy)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{
		EnvLogLevel:     "warn",
		EnvOpenStrategy: " split ",
	}

	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "split", cfg.OpenStrategy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		host    string
		wantErr bool
	}{
		{"127.0.0.1", false},
		{"::1", false},
		{"localhost", false},
		{"0.0.0.0", true},
		{"192.168.1.10", true},
		{"example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Host = tt.host
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.OpenStrategy = "edit"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "edit", loaded.OpenStrategy)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"open_strategy":"split"}`), 0644))

	initial, err := Load(path)
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	w, err := NewWatcher(path, initial, func(string) string { return "" }, func(c *Config) { changed <- c })
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	assert.Equal(t, "split", w.Current().OpenStrategy)

	require.NoError(t, os.WriteFile(path, []byte(`{"open_strategy":"vsplit"}`), 0644))

	select {
	case c := <-changed:
		assert.Equal(t, "vsplit", c.OpenStrategy)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe the write")
	}
	assert.Equal(t, "vsplit", w.Current().OpenStrategy)
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	initial := DefaultConfig()
	initial.OpenStrategy = "split"

	w, err := NewWatcher(path, initial, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"host":"10.0.0.1"}`), 0644))

	assert.Error(t, w.Reload())
	assert.Equal(t, "split", w.Current().OpenStrategy)
}
