package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recplay/internal/errkind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	return NewManagerAt(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Replay.Loops)
	assert.Equal(t, 1.0, cfg.Replay.Speed)
	assert.Equal(t, 50*time.Millisecond, cfg.Replay.KeyDwell.Std())
	assert.Equal(t, "Ctrl+Alt+R", cfg.Hotkeys.Record)
	assert.True(t, cfg.API.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	assert.Equal(t, *DefaultConfig(), m.Get())
	assert.Equal(t, filepath.Join(filepath.Dir(m.Path()), "actions.json"), m.LogPath())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	m := newTestManager(t)
	yml := "replay:\n  loops: 3\n  speed: 2.5\n  key_dwell: 20ms\nstorage:\n  log_path: logs/run.json\n"
	require.NoError(t, os.WriteFile(m.Path(), []byte(yml), 0o644))

	require.NoError(t, m.Load())
	cfg := m.Get()
	assert.Equal(t, 3, cfg.Replay.Loops)
	assert.Equal(t, 2.5, cfg.Replay.Speed)
	assert.Equal(t, 20*time.Millisecond, cfg.Replay.KeyDwell.Std())
	assert.Equal(t, "Ctrl+Alt+S", cfg.Hotkeys.Stop, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(filepath.Dir(m.Path()), "logs", "run.json"), m.LogPath())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.Path(), []byte("replay:\n  speed: 2\n"), 0o644))
	t.Setenv("RECPLAY_REPLAY__SPEED", "4")
	t.Setenv("RECPLAY_API__ADDR", "0.0.0.0:9999")

	require.NoError(t, m.Load())
	cfg := m.Get()
	assert.Equal(t, 4.0, cfg.Replay.Speed)
	assert.Equal(t, "0.0.0.0:9999", cfg.API.Addr)
}

func TestLoad_DotEnvFileNextToConfig(t *testing.T) {
	m := newTestManager(t)
	envFile := filepath.Join(filepath.Dir(m.Path()), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RECPLAY_LOG__LEVEL=debug\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RECPLAY_LOG__LEVEL") })

	require.NoError(t, m.Load())
	assert.Equal(t, "debug", m.Get().Log.Level)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.Path(), []byte("replay:\n  loops: 0\n"), 0o644))

	err := m.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrInvalidLoopCount))
	assert.Equal(t, 1, m.Get().Replay.Loops, "failed load keeps the previous config")
}

func TestSaveAndReload(t *testing.T) {
	m := newTestManager(t)
	cfg := m.Get()
	cfg.Replay.Loops = 7
	cfg.Replay.KeyDwell = Duration(75 * time.Millisecond)
	cfg.API.Token = "secret"
	require.NoError(t, m.Set(cfg))
	require.NoError(t, m.Save())

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "key_dwell: 75ms")

	other := NewManagerAt(m.Path(), nil)
	require.NoError(t, other.Load())
	assert.Equal(t, cfg, other.Get())
}

func TestSet_RejectsInvalidAndNotifies(t *testing.T) {
	m := newTestManager(t)
	var got []Config
	m.RegisterChangeCallback(func(c Config) { got = append(got, c) })

	bad := m.Get()
	bad.Replay.Speed = 0
	assert.True(t, errors.Is(m.Set(bad), errkind.ErrInvalidSpeed))
	assert.Empty(t, got)

	good := m.Get()
	good.Replay.Speed = 3
	require.NoError(t, m.Set(good))
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Replay.Speed)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())

	changed := make(chan Config, 4)
	m.RegisterChangeCallback(func(c Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(m.Path(), []byte("replay:\n  loops: 5\n"), 0o644))

	select {
	case c := <-changed:
		assert.Equal(t, 5, c.Replay.Loops)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
	assert.Equal(t, 5, m.Get().Replay.Loops)
}

func TestRegisterChangeCallback_NotifiesEveryListener(t *testing.T) {
	m := newTestManager(t)
	var hotkeys, dwell []Config
	m.RegisterChangeCallback(func(c Config) { hotkeys = append(hotkeys, c) })
	m.RegisterChangeCallback(func(c Config) { dwell = append(dwell, c) })

	cfg := m.Get()
	cfg.Replay.KeyDwell = Duration(90 * time.Millisecond)
	require.NoError(t, m.Set(cfg))

	require.Len(t, hotkeys, 1)
	require.Len(t, dwell, 1)
	assert.Equal(t, 90*time.Millisecond, dwell[0].Replay.KeyDwell.Std())
}
