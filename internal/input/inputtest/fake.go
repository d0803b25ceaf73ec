// Package inputtest provides in-memory hooks and a recording synthesizer for
// tests of code built on package input.
package inputtest

import (
	"errors"
	"sync"
	"time"

	"recplay/internal/input"
	"recplay/internal/keycodec"
)

const buffer = 4096

// PointerHook is a PointerHook driven by Emit.
type PointerHook struct {
	mu       sync.Mutex
	running  bool
	ch       chan input.PointerEvent
	StartErr error
}

// NewPointerHook returns a stopped hook.
func NewPointerHook() *PointerHook {
	return &PointerHook{}
}

func (h *PointerHook) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StartErr != nil {
		return h.StartErr
	}
	if h.running {
		return errors.New("pointer hook already running")
	}
	h.ch = make(chan input.PointerEvent, buffer)
	h.running = true
	return nil
}

func (h *PointerHook) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		h.running = false
		close(h.ch)
	}
	return nil
}

func (h *PointerHook) Events() <-chan input.PointerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ch
}

// Running reports whether the hook has been started and not stopped.
func (h *PointerHook) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Emit publishes ev. It reports false when the hook is not running.
func (h *PointerHook) Emit(ev input.PointerEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.ch <- ev
	return true
}

// Move emits a pointer move to (x, y).
func (h *PointerHook) Move(x, y int) bool {
	return h.Emit(input.PointerEvent{Kind: input.PointerMove, X: x, Y: y})
}

// Button emits a button transition at (x, y).
func (h *PointerHook) Button(x, y int, b input.Button, pressed bool) bool {
	return h.Emit(input.PointerEvent{Kind: input.PointerButton, X: x, Y: y, Button: b, Pressed: pressed})
}

// KeyboardHook is a KeyboardHook driven by Emit.
type KeyboardHook struct {
	mu       sync.Mutex
	running  bool
	ch       chan input.KeyEvent
	StartErr error
}

// NewKeyboardHook returns a stopped hook.
func NewKeyboardHook() *KeyboardHook {
	return &KeyboardHook{}
}

func (h *KeyboardHook) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.StartErr != nil {
		return h.StartErr
	}
	if h.running {
		return errors.New("keyboard hook already running")
	}
	h.ch = make(chan input.KeyEvent, buffer)
	h.running = true
	return nil
}

func (h *KeyboardHook) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		h.running = false
		close(h.ch)
	}
	return nil
}

func (h *KeyboardHook) Events() <-chan input.KeyEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ch
}

// Running reports whether the hook has been started and not stopped.
func (h *KeyboardHook) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Emit publishes ev. It reports false when the hook is not running.
func (h *KeyboardHook) Emit(ev input.KeyEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.ch <- ev
	return true
}

// Tap emits a press followed by a release of raw.
func (h *KeyboardHook) Tap(raw keycodec.RawKey) bool {
	return h.Emit(input.KeyEvent{Key: raw, Pressed: true}) &&
		h.Emit(input.KeyEvent{Key: raw, Pressed: false})
}

// Op names a synthesizer operation.
type Op string

const (
	OpMove  Op = "move"
	OpClick Op = "click"
	OpKey   Op = "key"
)

// Call is one synthesizer invocation.
type Call struct {
	Op     Op
	X, Y   int
	Button input.Button
	Handle keycodec.Handle
	At     time.Time
}

// Synth records every call it receives. KeyPress sleeps for the requested
// dwell like a real synthesizer.
type Synth struct {
	mu    sync.Mutex
	calls []Call

	// Fail, when set, decides the error returned for a call.
	Fail func(Call) error
	// OnCall, when set, observes each call after it is recorded.
	OnCall func(Call)
}

// NewSynth returns an empty recording synthesizer.
func NewSynth() *Synth {
	return &Synth{}
}

func (s *Synth) MoveTo(x, y int) error {
	return s.record(Call{Op: OpMove, X: x, Y: y})
}

func (s *Synth) Click(x, y int, button input.Button) error {
	return s.record(Call{Op: OpClick, X: x, Y: y, Button: button})
}

func (s *Synth) KeyPress(h keycodec.Handle, dwell time.Duration) error {
	err := s.record(Call{Op: OpKey, Handle: h})
	time.Sleep(dwell)
	return err
}

// Calls returns a copy of the recorded calls.
func (s *Synth) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset forgets all recorded calls.
func (s *Synth) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Synth) record(c Call) error {
	c.At = time.Now()
	s.mu.Lock()
	s.calls = append(s.calls, c)
	fail, onCall := s.Fail, s.OnCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(c)
	}
	if fail != nil {
		return fail(c)
	}
	return nil
}

var (
	_ input.PointerHook  = (*PointerHook)(nil)
	_ input.KeyboardHook = (*KeyboardHook)(nil)
	_ input.Synthesizer  = (*Synth)(nil)
)
