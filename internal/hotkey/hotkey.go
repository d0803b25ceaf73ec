// Package hotkey provides global system-wide hotkey monitoring on top of a
// keyboard hook.
package hotkey

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/keycodec"
)

// Manager handles global hotkey registration and matching
type Manager struct {
	mu           sync.RWMutex
	hotkeys      []*registeredHotkey
	currentState map[keycodec.Key]bool // keys currently held

	hook   input.KeyboardHook
	logger *slog.Logger
	wg     sync.WaitGroup
}

type registeredHotkey struct {
	parts    []keycodec.Key // e.g. [ctrl alt r]
	original string
	callback func()
	fired    bool
}

// NewManager creates a new hotkey manager reading from hook.
func NewManager(hook input.KeyboardHook, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		currentState: make(map[keycodec.Key]bool),
		hook:         hook,
		logger:       logger.With("component", "hotkey"),
	}
}

// Parse splits a hotkey string such as "Ctrl+Alt+R" into canonical keys.
func Parse(hotkeyStr string) ([]keycodec.Key, error) {
	var parts []keycodec.Key
	for _, p := range strings.Split(hotkeyStr, "+") {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errkind.ErrUnsupportedKey.WithMessagef("empty key in hotkey %q", hotkeyStr)
		}
		k := keycodec.Parse(p)
		if !k.IsSupported() {
			return nil, errkind.ErrUnsupportedKey.WithMessagef("unknown key %q in hotkey %q", p, hotkeyStr)
		}
		parts = append(parts, k.Fold())
	}
	return parts, nil
}

// Register registers a hotkey string (e.g. "Ctrl+Alt+1") and a callback.
// An empty string registers nothing.
func (m *Manager) Register(hotkeyStr string, callback func()) error {
	if strings.TrimSpace(hotkeyStr) == "" {
		return nil
	}
	parts, err := Parse(hotkeyStr)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = append(m.hotkeys, &registeredHotkey{
		parts:    parts,
		original: hotkeyStr,
		callback: callback,
	})
	m.logger.Debug("Registered hotkey", "hotkey", hotkeyStr)
	return nil
}

// Clear removes all registered hotkeys
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = nil
}

// UpdateState records a key transition and fires every hotkey completed by
// a press. A hotkey fires once per press of its last key; holding the keys
// (auto-repeat) does not fire it again.
func (m *Manager) UpdateState(key keycodec.Key, isDown bool) {
	key = key.Fold()

	m.mu.Lock()
	if !isDown {
		delete(m.currentState, key)
		for _, hk := range m.hotkeys {
			if hk.fired && hk.contains(key) {
				hk.fired = false
			}
		}
		m.mu.Unlock()
		return
	}

	m.currentState[key] = true
	var matched []*registeredHotkey
	for _, hk := range m.hotkeys {
		if hk.fired || !hk.contains(key) {
			continue
		}
		match := true
		for _, part := range hk.parts {
			if !m.currentState[part] {
				match = false
				break
			}
		}
		if match {
			hk.fired = true
			matched = append(matched, hk)
		}
	}
	m.mu.Unlock()

	for _, hk := range matched {
		m.logger.Info("Hotkey triggered", "hotkey", hk.original)
		go hk.callback()
	}
}

func (hk *registeredHotkey) contains(k keycodec.Key) bool {
	for _, p := range hk.parts {
		if p == k {
			return true
		}
	}
	return false
}

// Start starts the keyboard hook and begins matching.
func (m *Manager) Start() error {
	if err := m.hook.Start(); err != nil {
		return fmt.Errorf("start hotkey keyboard hook: %w", err)
	}
	events := m.hook.Events()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for ev := range events {
			k, _ := keycodec.Encode(ev.Key)
			m.UpdateState(k, ev.Pressed)
		}
	}()
	m.logger.Info("Hotkey engine started")
	return nil
}

// Stop stops the hook and waits for the matcher to exit.
func (m *Manager) Stop() error {
	err := m.hook.Stop()
	m.wg.Wait()

	m.mu.Lock()
	clear(m.currentState)
	for _, hk := range m.hotkeys {
		hk.fired = false
	}
	m.mu.Unlock()
	return err
}
