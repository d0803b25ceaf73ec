package main

import (
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"recplay/internal/config"
	"recplay/internal/hotkey"
	"recplay/internal/input"
	"recplay/internal/session"
	"recplay/internal/store"
)

// newSession wires the platform devices into a session.
func (a *app) newSession(logPath string) *session.Session {
	cfg := a.cfg.Get()
	if logPath == "" {
		logPath = a.cfg.LogPath()
	}
	if !input.Trusted() {
		a.logger.Warn("Input monitoring is not permitted for this process; recordings may be empty. " +
			"Grant accessibility access (macOS) or run elevated (Windows).")
	}
	sess := session.New(session.Config{
		Pointer:  input.NewMouseTrap(),
		Keyboard: input.NewKeyboardTrap(),
		Synth:    input.NewInjector(),
		Store:    store.New(logPath, a.logger),
		Logger:   a.logger,
		KeyDwell: cfg.Replay.KeyDwell.Std(),
	})
	a.cfg.RegisterChangeCallback(func(c config.Config) {
		sess.SetKeyDwell(c.Replay.KeyDwell.Std())
	})
	return sess
}

// hotkeyActions are the callbacks bound to the configured hotkeys.
type hotkeyActions struct {
	Record, Stop, Replay, Cancel func()
}

// bindHotkeys registers the configured hotkeys and re-registers them on
// every config change.
func bindHotkeys(m *hotkey.Manager, cfgMgr *config.Manager, acts hotkeyActions, logger *slog.Logger) {
	var (
		mu   sync.Mutex
		last time.Time
	)
	debounce := func(fn func()) func() {
		if fn == nil {
			return nil
		}
		return func() {
			mu.Lock()
			if time.Since(last) < 500*time.Millisecond {
				mu.Unlock()
				return
			}
			last = time.Now()
			mu.Unlock()
			fn()
		}
	}

	refresh := func(cfg config.Config) {
		m.Clear()
		bindings := []struct {
			name, combo string
			fn          func()
		}{
			{"record", cfg.Hotkeys.Record, acts.Record},
			{"stop", cfg.Hotkeys.Stop, acts.Stop},
			{"replay", cfg.Hotkeys.Replay, acts.Replay},
			{"cancel", cfg.Hotkeys.Cancel, acts.Cancel},
		}
		for _, b := range bindings {
			if b.fn == nil || b.combo == "" {
				continue
			}
			fn := debounce(b.fn)
			if err := m.Register(b.combo, fn); err != nil {
				logger.Warn("Failed to register hotkey", "action", b.name, "hotkey", b.combo, "error", err)
				continue
			}
			// Cmd is the usual modifier on macOS.
			if runtime.GOOS == "darwin" && strings.Contains(strings.ToUpper(b.combo), "CTRL") {
				cmdVariant := strings.ReplaceAll(strings.ToUpper(b.combo), "CTRL", "CMD")
				if err := m.Register(cmdVariant, fn); err != nil {
					logger.Debug("Failed to register Cmd variant", "hotkey", cmdVariant, "error", err)
				}
			}
			logger.Info("Registered hotkey", "action", b.name, "hotkey", b.combo)
		}
	}

	refresh(cfgMgr.Get())
	cfgMgr.RegisterChangeCallback(refresh)
}
