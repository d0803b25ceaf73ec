// Package input provides cross-platform input capture and injection functionality.
//
// Hooks observe the real pointer and keyboard and publish raw events on a
// channel. Synthesizers post events back into the OS input stream.
package input

import (
	"errors"
	"time"

	"recplay/internal/keycodec"
)

// ErrUnsupportedPlatform is returned by hooks and synthesizers that have no
// implementation on the running OS.
var ErrUnsupportedPlatform = errors.New("input: not supported on this platform")

// DefaultKeyDwell is how long a synthesized key stays down.
const DefaultKeyDwell = 50 * time.Millisecond

// Button numbers follow the hook convention: 1=left, 2=right, 3=middle.
type Button int

const (
	ButtonLeft   Button = 1
	ButtonRight  Button = 2
	ButtonMiddle Button = 3
)

// PointerKind distinguishes pointer notifications.
type PointerKind uint8

const (
	PointerMove PointerKind = iota + 1
	PointerButton
)

// PointerEvent is a raw pointer notification in absolute screen coordinates.
type PointerEvent struct {
	Kind    PointerKind
	X, Y    int
	Button  Button
	Pressed bool
	Time    time.Time
}

// KeyEvent is a raw key notification.
type KeyEvent struct {
	Key     keycodec.RawKey
	Pressed bool
	Time    time.Time
}

// PointerHook delivers pointer notifications until stopped. Stop returns
// once no further event can be published and the channel is closed.
type PointerHook interface {
	Start() error
	Stop() error
	Events() <-chan PointerEvent
}

// KeyboardHook delivers key notifications until stopped.
type KeyboardHook interface {
	Start() error
	Stop() error
	Events() <-chan KeyEvent
}

// Synthesizer posts input into the OS as if it came from a real device.
type Synthesizer interface {
	// MoveTo warps the pointer to absolute screen coordinates.
	MoveTo(x, y int) error
	// Click presses and releases button at (x, y).
	Click(x, y int, button Button) error
	// KeyPress presses h, holds it for dwell and releases it.
	KeyPress(h keycodec.Handle, dwell time.Duration) error
}

// Preparer is implemented by synthesizers that need setup before their
// first event is delivered on time. Replay calls Prepare before it starts
// the clock.
type Preparer interface {
	Prepare() error
}

// eventBuffer is the channel capacity of the platform hooks. Hook callbacks
// never block; events beyond it are dropped.
const eventBuffer = 1024
