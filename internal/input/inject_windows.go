//go:build windows

package input

import (
	"fmt"
	"time"
	"unsafe"

	"recplay/internal/errkind"
	"recplay/internal/keycodec"
)

// Windows implementation of input injection using SendInput.

var (
	procSendInput    = user32.NewProc("SendInput")
	procSetCursorPos = user32.NewProc("SetCursorPos")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseEventLeftDown   = 0x0002
	mouseEventLeftUp     = 0x0004
	mouseEventRightDown  = 0x0008
	mouseEventRightUp    = 0x0010
	mouseEventMiddleDown = 0x0020
	mouseEventMiddleUp   = 0x0040

	keyEventKeyUp   = 0x0002
	keyEventUnicode = 0x0004
)

// mouseInput and keybdInput mirror INPUT with the matching union member.
// Both are padded to sizeof(INPUT).
type mouseInput struct {
	Type        uint32
	_           uint32
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type keybdInput struct {
	Type        uint32
	_           uint32
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
	_           [8]byte
}

// Injector represents a Windows input injector
type Injector struct{}

// NewInjector creates a new input injector for Windows
func NewInjector() *Injector {
	return &Injector{}
}

// MoveTo warps the cursor to (x, y).
func (i *Injector) MoveTo(x, y int) error {
	ret, _, err := procSetCursorPos.Call(uintptr(x), uintptr(y))
	if ret == 0 {
		return errkind.ErrSynthesisFailed.WithMessagef("SetCursorPos(%d, %d): %v", x, y, err)
	}
	return nil
}

// Click moves to (x, y) and sends a press and release of button.
func (i *Injector) Click(x, y int, button Button) error {
	var down, up uint32
	switch button {
	case ButtonLeft:
		down, up = mouseEventLeftDown, mouseEventLeftUp
	case ButtonRight:
		down, up = mouseEventRightDown, mouseEventRightUp
	case ButtonMiddle:
		down, up = mouseEventMiddleDown, mouseEventMiddleUp
	default:
		return errkind.ErrSynthesisFailed.WithMessagef("invalid button number: %d", button)
	}

	if err := i.MoveTo(x, y); err != nil {
		return err
	}
	inputs := []mouseInput{
		{Type: inputMouse, DwFlags: down},
		{Type: inputMouse, DwFlags: up},
	}
	return sendInputs(unsafe.Pointer(&inputs[0]), len(inputs), unsafe.Sizeof(inputs[0]))
}

// KeyPress sends key down, waits dwell, then sends key up. Handles without
// a virtual-key code are typed as unicode characters.
func (i *Injector) KeyPress(h keycodec.Handle, dwell time.Duration) error {
	if h.VK == 0 && h.Char == 0 {
		return errkind.ErrSynthesisFailed.WithMessage("empty key handle")
	}

	if h.Shift {
		if err := sendKey(vkShift, 0, 0); err != nil {
			return err
		}
		defer sendKey(vkShift, 0, keyEventKeyUp)
	}

	var vk, scan uint16
	var flags uint32
	if h.VK != 0 {
		vk = h.VK
	} else {
		if h.Char > 0xFFFF {
			return errkind.ErrSynthesisFailed.WithMessagef("character %q is outside the basic plane", h.Char)
		}
		scan, flags = uint16(h.Char), keyEventUnicode
	}

	if err := sendKey(vk, scan, flags); err != nil {
		return err
	}
	time.Sleep(dwell)
	return sendKey(vk, scan, flags|keyEventKeyUp)
}

func sendKey(vk, scan uint16, flags uint32) error {
	in := keybdInput{Type: inputKeyboard, WVk: vk, WScan: scan, DwFlags: flags}
	return sendInputs(unsafe.Pointer(&in), 1, unsafe.Sizeof(in))
}

func sendInputs(p unsafe.Pointer, n int, size uintptr) error {
	ret, _, err := procSendInput.Call(uintptr(n), uintptr(p), size)
	if int(ret) != n {
		return errkind.ErrSynthesisFailed.WithMessage(fmt.Sprintf("SendInput sent %d of %d events: %v", ret, n, err))
	}
	return nil
}
