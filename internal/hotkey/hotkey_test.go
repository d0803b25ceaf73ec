package hotkey

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/input/inputtest"
	"recplay/internal/keycodec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vkCtrl = keycodec.RawKey{VK: 0x11}
	vkAlt  = keycodec.RawKey{VK: 0x12}
	vkR    = keycodec.RawKey{VK: 0x52, Char: 'r'}
)

func newManager() (*Manager, *inputtest.KeyboardHook) {
	hook := inputtest.NewKeyboardHook()
	return NewManager(hook, slog.New(slog.NewTextHandler(io.Discard, nil))), hook
}

func press(hook *inputtest.KeyboardHook, keys ...keycodec.RawKey) {
	for _, k := range keys {
		hook.Emit(input.KeyEvent{Key: k, Pressed: true})
	}
}

func release(hook *inputtest.KeyboardHook, keys ...keycodec.RawKey) {
	for _, k := range keys {
		hook.Emit(input.KeyEvent{Key: k, Pressed: false})
	}
}

func TestParse(t *testing.T) {
	parts, err := Parse("Ctrl + Alt+R")
	require.NoError(t, err)
	assert.Equal(t, []keycodec.Key{
		keycodec.Named(keycodec.Ctrl),
		keycodec.Named(keycodec.Alt),
		keycodec.Char('r'),
	}, parts)

	parts, err = Parse("Shift+Escape")
	require.NoError(t, err)
	assert.Equal(t, keycodec.Named(keycodec.Esc), parts[1])

	for _, bad := range []string{"Ctrl+", "Ctrl+Hyper", "+"} {
		_, err := Parse(bad)
		assert.True(t, errors.Is(err, errkind.ErrUnsupportedKey), bad)
	}
}

func TestRegister_EmptyIsNoop(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Register("", func() {}))
	assert.Empty(t, m.hotkeys)
	assert.Error(t, m.Register("Ctrl+Nope", func() {}))
}

func TestHotkeyFiresOncePerPress(t *testing.T) {
	m, hook := newManager()
	var count atomic.Int32
	require.NoError(t, m.Register("Ctrl+Alt+R", func() { count.Add(1) }))
	require.NoError(t, m.Start())
	defer m.Stop()

	press(hook, vkCtrl, vkAlt, vkR)
	press(hook, vkR) // auto-repeat
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	release(hook, vkR)
	press(hook, vkR)
	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHotkeyNeedsEveryPart(t *testing.T) {
	m, hook := newManager()
	var count atomic.Int32
	require.NoError(t, m.Register("Ctrl+Alt+R", func() { count.Add(1) }))
	require.NoError(t, m.Start())

	press(hook, vkCtrl, vkR)
	release(hook, vkCtrl, vkR)
	press(hook, vkR, vkAlt)
	require.NoError(t, m.Stop())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestHotkeyCaseInsensitive(t *testing.T) {
	m, _ := newManager()
	fired := make(chan struct{}, 1)
	require.NoError(t, m.Register("Shift+R", func() { fired <- struct{}{} }))

	m.UpdateState(keycodec.Named(keycodec.Shift), true)
	m.UpdateState(keycodec.Char('R'), true)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("hotkey not fired")
	}
}

func TestStartPropagatesHookError(t *testing.T) {
	m, hook := newManager()
	hook.StartErr = errors.New("no permission")
	assert.ErrorContains(t, m.Start(), "no permission")
}
