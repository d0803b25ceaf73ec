//go:build !windows && !darwin

package input

// Stub implementation for platforms without global input hooks

// MouseTrap represents a stub pointer trap
type MouseTrap struct{}

// NewMouseTrap creates a new stub trap
func NewMouseTrap() *MouseTrap {
	return &MouseTrap{}
}

// Start begins capturing input (stub)
func (t *MouseTrap) Start() error {
	return ErrUnsupportedPlatform
}

// Stop stops capturing input (stub)
func (t *MouseTrap) Stop() error {
	return nil
}

// Events returns the input event channel (stub)
func (t *MouseTrap) Events() <-chan PointerEvent {
	return nil
}

// KeyboardTrap represents a stub keyboard trap
type KeyboardTrap struct{}

// NewKeyboardTrap creates a new stub trap
func NewKeyboardTrap() *KeyboardTrap {
	return &KeyboardTrap{}
}

// Start begins capturing input (stub)
func (t *KeyboardTrap) Start() error {
	return ErrUnsupportedPlatform
}

// Stop stops capturing input (stub)
func (t *KeyboardTrap) Stop() error {
	return nil
}

// Events returns the input event channel (stub)
func (t *KeyboardTrap) Events() <-chan KeyEvent {
	return nil
}

// Trusted always reports true; there is no permission model to check.
func Trusted() bool {
	return true
}
