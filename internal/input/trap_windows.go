//go:build windows

package input

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"recplay/internal/keycodec"
	"recplay/internal/osutils"
)

// Windows implementation of input capture using low-level hooks. Each trap
// owns an OS thread that installs the hook and pumps its message loop.

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	kernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procSetWindowsHookEx    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage          = user32.NewProc("GetMessageW")
	procTranslateMessage    = user32.NewProc("TranslateMessage")
	procDispatchMessage     = user32.NewProc("DispatchMessageW")
	procPostThreadMessage   = user32.NewProc("PostThreadMessageW")
	procGetKeyState         = user32.NewProc("GetKeyState")
	procGetModuleHandle     = kernel32.NewProc("GetModuleHandleW")
)

const (
	whKeyboardLL = 13
	whMouseLL    = 14

	wmQuit        = 0x0012
	wmKeyDown     = 0x0100
	wmKeyUp       = 0x0101
	wmSysKeyDown  = 0x0104
	wmSysKeyUp    = 0x0105
	wmMouseMove   = 0x0200
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208

	vkShift    = 0x10
	vkLShift   = 0xA0
	vkRShift   = 0xA1
	vkCapsLock = 0x14
)

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    syscall.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
}

type msllHookStruct struct {
	Pt          point
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

// Trusted reports whether hooks can observe every window. Low-level hooks
// installed by a non-elevated process miss input sent to elevated windows.
func Trusted() bool {
	return osutils.IsAdmin()
}

// hookLoop installs one low-level hook on a locked OS thread.
type hookLoop struct {
	threadID uint32
	done     chan struct{}
}

func (l *hookLoop) start(idHook int, proc uintptr) error {
	l.done = make(chan struct{})
	ready := make(chan error, 1)
	go l.run(idHook, proc, ready)
	return <-ready
}

// Hooks must be registered in the same thread that runs the message loop.
func (l *hookLoop) run(idHook int, proc uintptr, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	l.threadID = windows.GetCurrentThreadId()
	hMod, _, _ := procGetModuleHandle.Call(0)
	hook, _, err := procSetWindowsHookEx.Call(uintptr(idHook), proc, hMod, 0)
	if hook == 0 {
		ready <- fmt.Errorf("SetWindowsHookEx(%d) failed: %w", idHook, err)
		return
	}
	ready <- nil

	var m msg
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(ret) <= 0 {
			break
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessage.Call(uintptr(unsafe.Pointer(&m)))
	}
	procUnhookWindowsHookEx.Call(hook)
}

func (l *hookLoop) stop() {
	procPostThreadMessage.Call(uintptr(l.threadID), wmQuit, 0, 0)
	<-l.done
}

// MouseTrap captures pointer moves and button transitions.
type MouseTrap struct {
	mu      sync.Mutex
	running bool
	events  chan PointerEvent
	loop    hookLoop
	proc    uintptr
}

// NewMouseTrap creates a new pointer trap for Windows. Each trap allocates
// one callback slot for the life of the process.
func NewMouseTrap() *MouseTrap {
	t := &MouseTrap{events: make(chan PointerEvent)}
	t.proc = syscall.NewCallback(t.hookProc)
	return t
}

// Start installs the low-level mouse hook.
func (t *MouseTrap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("mouse trap already running")
	}

	t.events = make(chan PointerEvent, eventBuffer)
	if err := t.loop.start(whMouseLL, t.proc); err != nil {
		close(t.events)
		return fmt.Errorf("failed to set mouse hook: %w", err)
	}
	t.running = true
	slog.Debug("Mouse hook installed", "component", "input")
	return nil
}

// Stop removes the hook and closes the event channel.
func (t *MouseTrap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	t.loop.stop()
	close(t.events)
	return nil
}

// Events returns the pointer event channel.
func (t *MouseTrap) Events() <-chan PointerEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *MouseTrap) publish(ev PointerEvent) {
	select {
	case t.events <- ev:
	default:
		// Channel full, drop event
	}
}

func (t *MouseTrap) hookProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 {
		hs := (*msllHookStruct)(unsafe.Pointer(lParam))
		ev := PointerEvent{
			X:    int(hs.Pt.X),
			Y:    int(hs.Pt.Y),
			Time: time.Now(),
		}

		switch uint32(wParam) {
		case wmMouseMove:
			ev.Kind = PointerMove
		case wmLButtonDown:
			ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonLeft, true
		case wmLButtonUp:
			ev.Kind, ev.Button = PointerButton, ButtonLeft
		case wmRButtonDown:
			ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonRight, true
		case wmRButtonUp:
			ev.Kind, ev.Button = PointerButton, ButtonRight
		case wmMButtonDown:
			ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonMiddle, true
		case wmMButtonUp:
			ev.Kind, ev.Button = PointerButton, ButtonMiddle
		}

		if ev.Kind != 0 {
			t.publish(ev)
		}
	}

	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

// KeyboardTrap captures key presses and releases.
type KeyboardTrap struct {
	mu      sync.Mutex
	running bool
	events  chan KeyEvent
	loop    hookLoop

	proc uintptr

	// shiftDown is only touched from the hook thread.
	shiftDown bool
}

// NewKeyboardTrap creates a new keyboard trap for Windows.
func NewKeyboardTrap() *KeyboardTrap {
	t := &KeyboardTrap{events: make(chan KeyEvent)}
	t.proc = syscall.NewCallback(t.hookProc)
	return t
}

// Start installs the low-level keyboard hook.
func (t *KeyboardTrap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("keyboard trap already running")
	}

	t.events = make(chan KeyEvent, eventBuffer)
	t.shiftDown = false
	if err := t.loop.start(whKeyboardLL, t.proc); err != nil {
		close(t.events)
		return fmt.Errorf("failed to set keyboard hook: %w", err)
	}
	t.running = true
	slog.Debug("Keyboard hook installed", "component", "input")
	return nil
}

// Stop removes the hook and closes the event channel.
func (t *KeyboardTrap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	t.loop.stop()
	close(t.events)
	return nil
}

// Events returns the key event channel.
func (t *KeyboardTrap) Events() <-chan KeyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *KeyboardTrap) hookProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 {
		hs := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		switch uint32(wParam) {
		case wmKeyDown, wmSysKeyDown:
			t.handleKey(uint16(hs.VkCode), true)
		case wmKeyUp, wmSysKeyUp:
			t.handleKey(uint16(hs.VkCode), false)
		}
	}

	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func (t *KeyboardTrap) handleKey(vk uint16, pressed bool) {
	if vk == vkShift || vk == vkLShift || vk == vkRShift {
		t.shiftDown = pressed
	}

	ev := KeyEvent{
		Key:     keycodec.RawKey{VK: vk, Char: t.layoutChar(vk)},
		Pressed: pressed,
		Time:    time.Now(),
	}
	select {
	case t.events <- ev:
	default:
		// Channel full, drop event
	}
}

// layoutChar returns the character vk produces under the current shift and
// caps lock state, or 0 to let the codec derive it from vk.
func (t *KeyboardTrap) layoutChar(vk uint16) rune {
	state, _, _ := procGetKeyState.Call(vkCapsLock)
	capsOn := state&1 != 0
	isLetter := vk >= 0x41 && vk <= 0x5A

	switch {
	case isLetter && t.shiftDown != capsOn:
		return keycodec.ShiftedChar(vk)
	case !isLetter && t.shiftDown:
		return keycodec.ShiftedChar(vk)
	}
	return 0
}
