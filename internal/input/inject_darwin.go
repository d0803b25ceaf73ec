//go:build darwin

package input

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation -framework ApplicationServices

#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <ApplicationServices/ApplicationServices.h>

static void injectMoveTo(CGFloat x, CGFloat y) {
    CGEventRef event = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved, CGPointMake(x, y), kCGMouseButtonLeft);
    CGEventPost(kCGSessionEventTap, event);
    CFRelease(event);
}

static int injectClick(CGFloat x, CGFloat y, int button) {
    CGMouseButton cgButton;
    CGEventType down, up;

    switch (button) {
        case 1: cgButton = kCGMouseButtonLeft; down = kCGEventLeftMouseDown; up = kCGEventLeftMouseUp; break;
        case 2: cgButton = kCGMouseButtonRight; down = kCGEventRightMouseDown; up = kCGEventRightMouseUp; break;
        case 3: cgButton = kCGMouseButtonCenter; down = kCGEventOtherMouseDown; up = kCGEventOtherMouseUp; break;
        default: return -1;
    }

    CGPoint pos = CGPointMake(x, y);
    CGEventRef event = CGEventCreateMouseEvent(NULL, down, pos, cgButton);
    CGEventPost(kCGSessionEventTap, event);
    CFRelease(event);

    event = CGEventCreateMouseEvent(NULL, up, pos, cgButton);
    CGEventPost(kCGSessionEventTap, event);
    CFRelease(event);
    return 0;
}

static void injectKey(CGKeyCode keyCode, bool pressed, bool shift) {
    CGEventRef event = CGEventCreateKeyboardEvent(NULL, keyCode, pressed);
    if (shift) {
        CGEventSetFlags(event, kCGEventFlagMaskShift);
    }
    CGEventPost(kCGSessionEventTap, event);
    CFRelease(event);
}

static void injectChar(UniChar ch, bool pressed) {
    CGEventRef event = CGEventCreateKeyboardEvent(NULL, 0, pressed);
    CGEventKeyboardSetUnicodeString(event, 1, &ch);
    CGEventPost(kCGSessionEventTap, event);
    CFRelease(event);
}
*/
import "C"

import (
	"time"

	"recplay/internal/errkind"
	"recplay/internal/keycodec"
)

// macOS implementation of input injection using CoreGraphics

// Injector represents a macOS input injector
type Injector struct{}

// NewInjector creates a new input injector for macOS
func NewInjector() *Injector {
	return &Injector{}
}

// MoveTo posts a mouse-moved event at (x, y).
func (i *Injector) MoveTo(x, y int) error {
	C.injectMoveTo(C.CGFloat(x), C.CGFloat(y))
	return nil
}

// Click posts a press and release of button at (x, y).
func (i *Injector) Click(x, y int, button Button) error {
	if C.injectClick(C.CGFloat(x), C.CGFloat(y), C.int(button)) != 0 {
		return errkind.ErrSynthesisFailed.WithMessagef("invalid button number: %d", button)
	}
	return nil
}

// KeyPress presses h, holds it for dwell and releases it. The VK code is
// converted to a macOS key code; handles without one are typed as unicode.
func (i *Injector) KeyPress(h keycodec.Handle, dwell time.Duration) error {
	if h.VK == 0 {
		if h.Char == 0 || h.Char > 0xFFFF {
			return errkind.ErrSynthesisFailed.WithMessagef("cannot type character %q", h.Char)
		}
		C.injectChar(C.UniChar(h.Char), C.bool(true))
		time.Sleep(dwell)
		C.injectChar(C.UniChar(h.Char), C.bool(false))
		return nil
	}

	macKeyCode, ok := vkToMac[h.VK]
	if !ok {
		return errkind.ErrSynthesisFailed.WithMessagef("no macOS key code for vk 0x%02X", h.VK)
	}

	shift := C.bool(h.Shift)
	C.injectKey(C.CGKeyCode(macKeyCode), C.bool(true), shift)
	time.Sleep(dwell)
	C.injectKey(C.CGKeyCode(macKeyCode), C.bool(false), shift)
	return nil
}
