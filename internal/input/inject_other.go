//go:build !windows && !darwin && !linux

package input

import (
	"time"

	"recplay/internal/keycodec"
)

// Stub implementation for platforms without an injection backend

// Injector represents a stub input injector
type Injector struct{}

// NewInjector creates a new stub injector
func NewInjector() *Injector {
	return &Injector{}
}

// MoveTo moves the pointer (stub)
func (i *Injector) MoveTo(x, y int) error {
	return ErrUnsupportedPlatform
}

// Click clicks a button (stub)
func (i *Injector) Click(x, y int, button Button) error {
	return ErrUnsupportedPlatform
}

// KeyPress presses a key (stub)
func (i *Injector) KeyPress(h keycodec.Handle, dwell time.Duration) error {
	return ErrUnsupportedPlatform
}
