//go:build linux

package input

import (
	"sync"
	"time"

	"github.com/micmonay/keybd_event"

	"recplay/internal/errkind"
	"recplay/internal/keycodec"
)

// Linux implementation of key injection through uinput. Pointer injection
// has no uinput path here and reports a synthesis failure.

// uinputSettle is how long a fresh uinput device needs before the desktop
// picks up its events.
const uinputSettle = 2 * time.Second

var linuxKeys = func() map[uint16]int {
	m := map[uint16]int{
		0x08: keybd_event.VK_BACKSPACE,
		0x09: keybd_event.VK_TAB,
		0x0D: keybd_event.VK_ENTER,
		0x1B: keybd_event.VK_ESC,
		0x20: keybd_event.VK_SPACE,
		0x14: keybd_event.VK_CAPSLOCK,
		0x21: keybd_event.VK_PAGEUP,
		0x22: keybd_event.VK_PAGEDOWN,
		0x23: keybd_event.VK_END,
		0x24: keybd_event.VK_HOME,
		0x25: keybd_event.VK_LEFT,
		0x26: keybd_event.VK_UP,
		0x27: keybd_event.VK_RIGHT,
		0x28: keybd_event.VK_DOWN,
		0x2D: keybd_event.VK_INSERT,
		0x2E: keybd_event.VK_DELETE,
		0x90: keybd_event.VK_NUMLOCK,
		0x91: keybd_event.VK_SCROLLLOCK,
		0x13: keybd_event.VK_PAUSE,
		0x2C: keybd_event.VK_SYSRQ,
		0x5B: keybd_event.VK_LEFTMETA,
		0x5C: keybd_event.VK_RIGHTMETA,
		0x5D: keybd_event.VK_COMPOSE,

		0xBA: keybd_event.VK_SEMICOLON,
		0xBB: keybd_event.VK_EQUAL,
		0xBC: keybd_event.VK_COMMA,
		0xBD: keybd_event.VK_MINUS,
		0xBE: keybd_event.VK_DOT,
		0xBF: keybd_event.VK_SLASH,
		0xC0: keybd_event.VK_GRAVE,
		0xDB: keybd_event.VK_LEFTBRACE,
		0xDC: keybd_event.VK_BACKSLASH,
		0xDD: keybd_event.VK_RIGHTBRACE,
		0xDE: keybd_event.VK_APOSTROPHE,
		0xE2: keybd_event.VK_102ND,
	}

	letters := []int{
		keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D, keybd_event.VK_E,
		keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H, keybd_event.VK_I, keybd_event.VK_J,
		keybd_event.VK_K, keybd_event.VK_L, keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O,
		keybd_event.VK_P, keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
		keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X, keybd_event.VK_Y,
		keybd_event.VK_Z,
	}
	for i, code := range letters {
		m[uint16(0x41+i)] = code
	}

	digits := []int{
		keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3, keybd_event.VK_4,
		keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7, keybd_event.VK_8, keybd_event.VK_9,
	}
	for i, code := range digits {
		m[uint16(0x30+i)] = code
	}

	fkeys := []int{
		keybd_event.VK_F1, keybd_event.VK_F2, keybd_event.VK_F3, keybd_event.VK_F4,
		keybd_event.VK_F5, keybd_event.VK_F6, keybd_event.VK_F7, keybd_event.VK_F8,
		keybd_event.VK_F9, keybd_event.VK_F10, keybd_event.VK_F11, keybd_event.VK_F12,
	}
	for i, code := range fkeys {
		m[uint16(0x70+i)] = code
	}
	return m
}()

// Injector represents a Linux input injector
type Injector struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
	mu   sync.Mutex
}

// NewInjector creates a new input injector for Linux. The uinput device is
// opened in the background right away; Prepare waits for it to settle.
func NewInjector() *Injector {
	i := &Injector{}
	go i.bonding()
	return i
}

// Prepare blocks until the uinput device is open and has settled.
func (i *Injector) Prepare() error {
	_, err := i.bonding()
	return err
}

func (i *Injector) bonding() (*keybd_event.KeyBonding, error) {
	i.once.Do(func() {
		i.kb, i.err = keybd_event.NewKeyBonding()
		if i.err == nil {
			time.Sleep(uinputSettle)
		}
	})
	if i.err != nil {
		return nil, errkind.ErrSynthesisFailed.WithMessagef("open uinput: %v", i.err)
	}
	return &i.kb, nil
}

// MoveTo is not supported through uinput.
func (i *Injector) MoveTo(x, y int) error {
	return errkind.ErrSynthesisFailed.WithMessage("pointer injection is not supported on linux")
}

// Click is not supported through uinput.
func (i *Injector) Click(x, y int, button Button) error {
	return errkind.ErrSynthesisFailed.WithMessage("pointer injection is not supported on linux")
}

// KeyPress presses h, holds it for dwell and releases it.
func (i *Injector) KeyPress(h keycodec.Handle, dwell time.Duration) error {
	kb, err := i.bonding()
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	kb.Clear()
	kb.HasSHIFT(h.Shift)
	kb.HasCTRL(false)
	kb.HasALT(false)
	switch h.VK {
	case 0x10, 0xA0, 0xA1:
		kb.HasSHIFT(true)
	case 0x11, 0xA2, 0xA3:
		kb.HasCTRL(true)
	case 0x12, 0xA4, 0xA5:
		kb.HasALT(true)
	default:
		code, ok := linuxKeys[h.VK]
		if !ok {
			return errkind.ErrSynthesisFailed.WithMessagef("no uinput key for vk 0x%02X", h.VK)
		}
		kb.SetKeys(code)
	}

	if err := kb.Press(); err != nil {
		return errkind.ErrSynthesisFailed.WithMessagef("press: %v", err)
	}
	time.Sleep(dwell)
	if err := kb.Release(); err != nil {
		return errkind.ErrSynthesisFailed.WithMessagef("release: %v", err)
	}
	return nil
}
