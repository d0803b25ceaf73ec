// Package config provides configuration management for recplay.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"recplay/internal/replay"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	appDir   = "recplay"
	fileName = "config.yaml"

	// EnvPrefix prefixes every environment override, e.g.
	// RECPLAY_REPLAY__SPEED=2 sets replay.speed.
	EnvPrefix = "RECPLAY_"
)

// Config represents the application configuration
type Config struct {
	Storage StorageConfig `koanf:"storage" yaml:"storage"`
	Replay  ReplayConfig  `koanf:"replay" yaml:"replay"`
	Hotkeys HotkeyConfig  `koanf:"hotkeys" yaml:"hotkeys"`
	API     APIConfig     `koanf:"api" yaml:"api"`
	General GeneralConfig `koanf:"general" yaml:"general"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
}

// StorageConfig locates the persisted recording.
type StorageConfig struct {
	// LogPath is the action log file. Empty means actions.json next to the
	// config file.
	LogPath string `koanf:"log_path" yaml:"log_path"`
}

// ReplayConfig holds replay defaults used when the operator gives none.
type ReplayConfig struct {
	Loops    int      `koanf:"loops" yaml:"loops"`
	Speed    float64  `koanf:"speed" yaml:"speed"`
	KeyDwell Duration `koanf:"key_dwell" yaml:"key_dwell"`
}

// HotkeyConfig binds global hotkeys, e.g. "Ctrl+Alt+R". Empty disables.
type HotkeyConfig struct {
	Record string `koanf:"record" yaml:"record"`
	Stop   string `koanf:"stop" yaml:"stop"`
	Replay string `koanf:"replay" yaml:"replay"`
	Cancel string `koanf:"cancel" yaml:"cancel"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	// Token is an optional bearer token required on every API request
	Token string `koanf:"token" yaml:"token,omitempty"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// Notifications shows desktop notifications when a recording is saved
	// or a replay ends
	Notifications  bool `koanf:"notifications" yaml:"notifications"`
	StartMinimized bool `koanf:"start_minimized" yaml:"start_minimized"`
	StartOnBoot    bool `koanf:"start_on_boot" yaml:"start_on_boot"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Duration is a time.Duration written as "50ms" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

var defaults = map[string]any{
	"storage.log_path":        "",
	"replay.loops":            1,
	"replay.speed":            1.0,
	"replay.key_dwell":        "50ms",
	"hotkeys.record":          "Ctrl+Alt+R",
	"hotkeys.stop":            "Ctrl+Alt+S",
	"hotkeys.replay":          "Ctrl+Alt+P",
	"hotkeys.cancel":          "Ctrl+Alt+Esc",
	"api.enabled":             true,
	"api.addr":                "127.0.0.1:18090",
	"api.token":               "",
	"general.notifications":   true,
	"general.start_minimized": true,
	"general.start_on_boot":   false,
	"log.level":               "info",
	"log.format":              "text",
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	k := koanf.New(".")
	for key, v := range defaults {
		_ = k.Set(key, v)
	}
	var cfg Config
	_ = unmarshal(k, &cfg)
	return &cfg
}

// Validate reports settings recplay cannot run with.
func (c *Config) Validate() error {
	if err := replay.Validate(c.Replay.Loops, c.Replay.Speed); err != nil {
		return fmt.Errorf("replay defaults: %w", err)
	}
	if c.Replay.KeyDwell < 0 {
		return fmt.Errorf("replay.key_dwell must not be negative, got %s", c.Replay.KeyDwell.Std())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  []func(Config)
	logger     *slog.Logger
}

// NewManager creates a configuration manager for the per-user config file.
func NewManager(logger *slog.Logger) (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(configPath, logger), nil
}

// NewManagerAt creates a configuration manager for an explicit file.
func NewManagerAt(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
		logger:     logger.With("component", "config"),
	}
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", appDir)
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, appDir)
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".config")
		}
		configDir = filepath.Join(base, appDir)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, fileName), nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}

// LogPath resolves storage.log_path against the config directory.
func (m *Manager) LogPath() string {
	m.mu.Lock()
	p := m.config.Storage.LogPath
	m.mu.Unlock()
	if p == "" {
		return filepath.Join(filepath.Dir(m.configPath), "actions.json")
	}
	if !filepath.IsAbs(p) {
		return filepath.Join(filepath.Dir(m.configPath), p)
	}
	return p
}

// Load reads defaults, the config file, a .env file and RECPLAY_ variables,
// later sources overriding earlier ones.
func (m *Manager) Load() error {
	cfg, err := m.read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	cbs := m.onChanged
	m.mu.Unlock()

	m.logger.Debug("Configuration loaded", "path", m.configPath)
	notify(cbs, *cfg)
	return nil
}

func (m *Manager) read() (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if err := k.Load(file.Provider(m.configPath), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", m.configPath, err)
		}
	}

	for _, p := range []string{".env", filepath.Join(filepath.Dir(m.configPath), ".env")} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("Ignoring unreadable env file", "path", p, "error", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := unmarshal(k, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshal(k *koanf.Koanf, out *Config) error {
	return k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           out,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	})
}

// Save writes the configuration to disk atomically.
func (m *Manager) Save() error {
	m.mu.Lock()
	data, err := yamlv3.Marshal(m.config)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), m.configPath); err != nil {
		return err
	}

	m.logger.Info("Saved configuration", "path", m.configPath, "bytes", len(data))
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.config
}

// Set updates the configuration
func (m *Manager) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = &cfg
	cbs := m.onChanged
	m.mu.Unlock()
	notify(cbs, cfg)
	return nil
}

// RegisterChangeCallback registers a function to be called when config
// changes. Callbacks run in registration order.
func (m *Manager) RegisterChangeCallback(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = append(m.onChanged, fn)
}

func notify(cbs []func(Config), cfg Config) {
	for _, cb := range cbs {
		cb(cfg)
	}
}

// Watch reloads the configuration whenever the file changes on disk, until
// ctx is done. The change callback only fires when the decoded settings
// actually differ.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watching the directory survives the rename performed by Save and by
	// most editors.
	if err := w.Add(filepath.Dir(m.configPath)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		name := filepath.Clean(m.configPath)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				m.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("Config watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manager) reload() {
	cfg, err := m.read()
	if err != nil {
		m.logger.Warn("Ignoring invalid configuration change", "error", err)
		return
	}

	m.mu.Lock()
	if reflect.DeepEqual(*m.config, *cfg) {
		m.mu.Unlock()
		return
	}
	m.config = cfg
	cbs := m.onChanged
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", "path", m.configPath)
	notify(cbs, *cfg)
}
