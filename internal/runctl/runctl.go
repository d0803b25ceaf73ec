// Package runctl holds the shared run state of recplay: the stop flag that
// recording and replay poll, and the single slot that keeps at most one run
// (a recording or a replay) active at a time.
package runctl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a run is doing.
type Kind string

const (
	KindRecording Kind = "recording"
	KindReplay    Kind = "replay"
)

// BusyError is returned by Acquire while another run holds the slot.
type BusyError struct {
	Active Kind
	ID     string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s %s is still active", e.Active, e.ID)
}

// Controller is the cancellation controller shared by capture and replay.
// It is safe for concurrent use.
type Controller struct {
	mu     sync.Mutex
	stop   atomic.Bool
	active *Run
}

// New returns an idle controller.
func New() *Controller {
	return &Controller{}
}

// RequestStop asks the active run, if any, to stop at its next cancellation point.
func (c *Controller) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop.Store(true)
	if c.active != nil {
		c.active.cancel()
	}
}

// IsStopRequested reports whether a stop was requested since the last Reset.
func (c *Controller) IsStopRequested() bool {
	return c.stop.Load()
}

// Reset clears the stop flag. Acquire calls it for every new run.
func (c *Controller) Reset() {
	c.stop.Store(false)
}

// Acquire claims the run slot for a new run of the given kind. It fails with
// a *BusyError while another run has not been released.
func (c *Controller) Acquire(kind Kind) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, &BusyError{Active: c.active.Kind, ID: c.active.ID}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:      uuid.NewString(),
		Kind:    kind,
		Started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		ctl:     c,
	}
	c.stop.Store(false)
	c.active = r
	return r, nil
}

// Active returns the run holding the slot, if any.
func (c *Controller) Active() (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// Wait blocks until no run holds the slot or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		r := c.active
		c.mu.Unlock()
		if r == nil {
			return nil
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StopAndWait requests a stop and waits for the active run to be released.
func (c *Controller) StopAndWait(ctx context.Context) error {
	c.RequestStop()
	return c.Wait(ctx)
}

// Run is one claim on the controller's slot.
type Run struct {
	ID      string
	Kind    Kind
	Started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	ctl    *Controller
}

// Context is cancelled as soon as a stop is requested for this run.
func (r *Run) Context() context.Context {
	return r.ctx
}

// StopRequested reports whether this run has been asked to stop.
func (r *Run) StopRequested() bool {
	return r.ctx.Err() != nil
}

// Stop requests a stop of this run. It has no effect once the run has
// been released or if another run now holds the slot.
func (r *Run) Stop() {
	c := r.ctl
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.stop.Store(true)
		r.cancel()
	}
}

// Done is closed once the run has been released.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Release frees the slot. Every goroutine working for the run must have
// finished before Release is called. Releasing twice is a no-op.
func (r *Run) Release() {
	r.once.Do(func() {
		c := r.ctl
		c.mu.Lock()
		if c.active == r {
			c.active = nil
		}
		c.mu.Unlock()
		r.cancel()
		close(r.done)
	})
}
