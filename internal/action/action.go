// Package action defines the recorded input event model and the ordered log
// that holds one recording.
package action

import (
	"fmt"
	"strings"
	"sync"

	"recplay/internal/keycodec"
)

// Kind tags the variant held by an Action.
type Kind string

const (
	KindMove  Kind = "move"
	KindClick Kind = "click"
	KindKey   Kind = "key"
)

// Button identifies a mouse button.
type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// ParseButton accepts "left"/"right" and the "Button.left" form older logs used.
func ParseButton(s string) (Button, bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "Button.")) {
	case "left":
		return ButtonLeft, true
	case "right":
		return ButtonRight, true
	}
	return "", false
}

// Position is a screen coordinate in pixels.
type Position struct {
	X int
	Y int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Action is one normalized input event. Kind selects which fields are
// meaningful: Position for move and click, Button and Pressed for click,
// Key for key. Timestamp is seconds since the recording started.
type Action struct {
	Kind      Kind
	Position  Position
	Button    Button
	Pressed   bool
	Key       keycodec.Key
	Timestamp float64
}

// Move returns a pointer motion action.
func Move(x, y int, ts float64) Action {
	return Action{Kind: KindMove, Position: Position{X: x, Y: y}, Timestamp: ts}
}

// Click returns a mouse button action.
func Click(x, y int, button Button, pressed bool, ts float64) Action {
	return Action{Kind: KindClick, Position: Position{X: x, Y: y}, Button: button, Pressed: pressed, Timestamp: ts}
}

// KeyPress returns a key action.
func KeyPress(k keycodec.Key, ts float64) Action {
	return Action{Kind: KindKey, Key: k, Timestamp: ts}
}

func (a Action) String() string {
	switch a.Kind {
	case KindMove:
		return fmt.Sprintf("move%s@%.3f", a.Position, a.Timestamp)
	case KindClick:
		state := "up"
		if a.Pressed {
			state = "down"
		}
		return fmt.Sprintf("click%s %s %s@%.3f", a.Position, a.Button, state, a.Timestamp)
	case KindKey:
		return fmt.Sprintf("key %q@%.3f", a.Key.String(), a.Timestamp)
	}
	return fmt.Sprintf("%s@%.3f", a.Kind, a.Timestamp)
}

// Log is an ordered recording. It is appendable until frozen; afterwards
// every mutation panics, since writing a frozen log is a programming error.
type Log struct {
	mu      sync.RWMutex
	actions []Action
	frozen  bool
}

// NewLog returns an empty, writable log.
func NewLog() *Log {
	return &Log{}
}

// NewFrozenLog returns a read-only log holding a copy of actions.
func NewFrozenLog(actions []Action) *Log {
	l := &Log{actions: make([]Action, len(actions)), frozen: true}
	copy(l.actions, actions)
	return l
}

// Append adds a to the end of the log.
func (l *Log) Append(a Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		panic("action: append to frozen log")
	}
	l.actions = append(l.actions, a)
}

// Freeze makes the log read-only. Freezing twice is a no-op.
func (l *Log) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

// Frozen reports whether the log is read-only.
func (l *Log) Frozen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen
}

// Len returns the number of actions.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.actions)
}

// Actions returns a copy of the actions in log order.
func (l *Log) Actions() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Action, len(l.actions))
	copy(out, l.actions)
	return out
}

// Duration returns the timestamp of the last action, in seconds.
func (l *Log) Duration() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.actions) == 0 {
		return 0
	}
	return l.actions[len(l.actions)-1].Timestamp
}

// Validate checks that timestamps are non-negative and non-decreasing.
func Validate(actions []Action) error {
	prev := 0.0
	for i, a := range actions {
		if a.Timestamp < 0 {
			return fmt.Errorf("action %d: negative timestamp %v", i, a.Timestamp)
		}
		if a.Timestamp < prev {
			return fmt.Errorf("action %d: timestamp %v precedes %v", i, a.Timestamp, prev)
		}
		prev = a.Timestamp
	}
	return nil
}
