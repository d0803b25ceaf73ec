//go:build darwin

package input

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework ApplicationServices
#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <ApplicationServices/ApplicationServices.h>
#include <stdint.h>

CGEventRef recplayTapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon);

static inline CGEventMask pointerEventMask() {
    return CGEventMaskBit(kCGEventMouseMoved) |
        CGEventMaskBit(kCGEventLeftMouseDragged) | CGEventMaskBit(kCGEventRightMouseDragged) |
        CGEventMaskBit(kCGEventLeftMouseDown) | CGEventMaskBit(kCGEventLeftMouseUp) |
        CGEventMaskBit(kCGEventRightMouseDown) | CGEventMaskBit(kCGEventRightMouseUp) |
        CGEventMaskBit(kCGEventOtherMouseDown) | CGEventMaskBit(kCGEventOtherMouseUp);
}

static inline CGEventMask keyEventMask() {
    return CGEventMaskBit(kCGEventKeyDown) | CGEventMaskBit(kCGEventKeyUp) |
        CGEventMaskBit(kCGEventFlagsChanged);
}

static inline CFMachPortRef createTap(CGEventMask mask, uintptr_t refcon) {
    return CGEventTapCreate(kCGSessionEventTap, kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly, mask, recplayTapCallback, (void*)refcon);
}

static inline CFRunLoopSourceRef attachTap(CFMachPortRef tap) {
    CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
    CFRunLoopAddSource(CFRunLoopGetCurrent(), source, kCFRunLoopCommonModes);
    CGEventTapEnable(tap, true);
    return source;
}

static inline void runTapSlice() {
    CFRunLoopRunInMode(kCFRunLoopDefaultMode, 0.1, false);
}

static inline void detachTap(CFMachPortRef tap, CFRunLoopSourceRef source) {
    CGEventTapEnable(tap, false);
    CFRunLoopRemoveSource(CFRunLoopGetCurrent(), source, kCFRunLoopCommonModes);
    CFRelease(source);
    CFMachPortInvalidate(tap);
    CFRelease(tap);
}

static inline UniChar eventChar(CGEventRef event) {
    UniChar buf[4];
    UniCharCount n = 0;
    CGEventKeyboardGetUnicodeString(event, 4, &n, buf);
    return n > 0 ? buf[0] : 0;
}

static inline bool isTrusted() {
    return AXIsProcessTrusted();
}
*/
import "C"

import (
	"errors"
	"log/slog"
	"runtime"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unsafe"

	"recplay/internal/keycodec"
)

// macOS implementation of input capture using listen-only CGEventTaps.

// Trusted reports whether the process has accessibility permissions. Without
// them event taps cannot be created and injected events are ignored.
func Trusted() bool {
	return bool(C.isTrusted())
}

type tapSink interface {
	handle(eventType C.CGEventType, event C.CGEventRef)
	reenable()
}

//export recplayTapCallback
func recplayTapCallback(proxy C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, refcon unsafe.Pointer) C.CGEventRef {
	sink := cgo.Handle(uintptr(refcon)).Value().(tapSink)
	switch eventType {
	case C.kCGEventTapDisabledByTimeout, C.kCGEventTapDisabledByUserInput:
		sink.reenable()
	default:
		sink.handle(eventType, event)
	}
	return event
}

// eventTap runs one CGEventTap on a locked OS thread until stopped.
type eventTap struct {
	tap     C.CFMachPortRef
	handle  cgo.Handle
	stopped atomic.Bool
	done    chan struct{}
}

func (e *eventTap) start(mask C.CGEventMask, sink tapSink) error {
	e.handle = cgo.NewHandle(sink)
	e.stopped.Store(false)
	e.done = make(chan struct{})
	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(e.done)

		tap := C.createTap(mask, C.uintptr_t(e.handle))
		if tap == 0 {
			ready <- errors.New("failed to create CGEventTap, accessibility permissions missing?")
			return
		}
		e.tap = tap
		source := C.attachTap(tap)
		ready <- nil

		for !e.stopped.Load() {
			C.runTapSlice()
		}
		C.detachTap(tap, source)
	}()

	if err := <-ready; err != nil {
		<-e.done
		e.handle.Delete()
		return err
	}
	return nil
}

func (e *eventTap) stop() {
	e.stopped.Store(true)
	<-e.done
	e.handle.Delete()
}

func (e *eventTap) reenable() {
	if e.tap != 0 {
		C.CGEventTapEnable(e.tap, C.bool(true))
	}
}

// MouseTrap captures pointer moves and button transitions.
type MouseTrap struct {
	mu      sync.Mutex
	running bool
	events  chan PointerEvent
	tap     eventTap
}

// NewMouseTrap creates a new pointer trap for macOS.
func NewMouseTrap() *MouseTrap {
	return &MouseTrap{events: make(chan PointerEvent)}
}

// Start creates the event tap.
func (t *MouseTrap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("mouse trap already running")
	}
	t.events = make(chan PointerEvent, eventBuffer)
	if err := t.tap.start(C.pointerEventMask(), t); err != nil {
		close(t.events)
		return err
	}
	t.running = true
	slog.Debug("Pointer event tap started", "component", "input")
	return nil
}

// Stop removes the tap and closes the event channel.
func (t *MouseTrap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	t.tap.stop()
	close(t.events)
	return nil
}

// Events returns the pointer event channel.
func (t *MouseTrap) Events() <-chan PointerEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *MouseTrap) reenable() { t.tap.reenable() }

func (t *MouseTrap) handle(eventType C.CGEventType, event C.CGEventRef) {
	loc := C.CGEventGetLocation(event)
	ev := PointerEvent{X: int(loc.x), Y: int(loc.y), Time: time.Now()}

	switch eventType {
	case C.kCGEventMouseMoved, C.kCGEventLeftMouseDragged, C.kCGEventRightMouseDragged:
		ev.Kind = PointerMove
	case C.kCGEventLeftMouseDown:
		ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonLeft, true
	case C.kCGEventLeftMouseUp:
		ev.Kind, ev.Button = PointerButton, ButtonLeft
	case C.kCGEventRightMouseDown:
		ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonRight, true
	case C.kCGEventRightMouseUp:
		ev.Kind, ev.Button = PointerButton, ButtonRight
	case C.kCGEventOtherMouseDown:
		ev.Kind, ev.Button, ev.Pressed = PointerButton, ButtonMiddle, true
	case C.kCGEventOtherMouseUp:
		ev.Kind, ev.Button = PointerButton, ButtonMiddle
	default:
		return
	}

	select {
	case t.events <- ev:
	default:
		// Channel full, drop event
	}
}

// KeyboardTrap captures key presses and releases.
type KeyboardTrap struct {
	mu      sync.Mutex
	running bool
	events  chan KeyEvent
	tap     eventTap
}

// NewKeyboardTrap creates a new keyboard trap for macOS.
func NewKeyboardTrap() *KeyboardTrap {
	return &KeyboardTrap{events: make(chan KeyEvent)}
}

// Start creates the event tap.
func (t *KeyboardTrap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return errors.New("keyboard trap already running")
	}
	t.events = make(chan KeyEvent, eventBuffer)
	if err := t.tap.start(C.keyEventMask(), t); err != nil {
		close(t.events)
		return err
	}
	t.running = true
	slog.Debug("Keyboard event tap started", "component", "input")
	return nil
}

// Stop removes the tap and closes the event channel.
func (t *KeyboardTrap) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	t.tap.stop()
	close(t.events)
	return nil
}

// Events returns the key event channel.
func (t *KeyboardTrap) Events() <-chan KeyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

func (t *KeyboardTrap) reenable() { t.tap.reenable() }

func (t *KeyboardTrap) handle(eventType C.CGEventType, event C.CGEventRef) {
	code := uint16(C.CGEventGetIntegerValueField(event, C.kCGKeyboardEventKeycode))
	vk, ok := macToVK[code]
	if !ok {
		// Keep the native code visible in the unsupported key identifier.
		vk = 0xFF00 | code
	}

	ev := KeyEvent{Key: keycodec.RawKey{VK: vk}, Time: time.Now()}
	switch eventType {
	case C.kCGEventKeyDown, C.kCGEventKeyUp:
		ev.Pressed = eventType == C.kCGEventKeyDown
		if r := rune(C.eventChar(event)); unicode.IsPrint(r) {
			ev.Key.Char = r
		}
	case C.kCGEventFlagsChanged:
		flags := C.CGEventGetFlags(event)
		switch code {
		case 55, 54: // Command keys
			ev.Pressed = flags&C.kCGEventFlagMaskCommand != 0
		case 56, 60: // Shift keys
			ev.Pressed = flags&C.kCGEventFlagMaskShift != 0
		case 58, 61: // Alt/Option keys
			ev.Pressed = flags&C.kCGEventFlagMaskAlternate != 0
		case 59, 62: // Control keys
			ev.Pressed = flags&C.kCGEventFlagMaskControl != 0
		case 57: // Caps Lock reports each toggle as a press
			ev.Pressed = true
		default:
			return
		}
	default:
		return
	}

	select {
	case t.events <- ev:
	default:
	}
}
