package replay

import (
	"context"
	"sync"
	"time"

	"recplay/internal/runctl"
)

// Stats counts what a run did so far.
type Stats struct {
	Dispatched     int       `json:"dispatched"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	LoopsCompleted int       `json:"loops_completed"`
	Cancelled      bool      `json:"cancelled"`
	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
}

// RunHandle refers to one replay run.
type RunHandle struct {
	ID      string
	Loops   int
	Speed   float64
	Actions int

	run  *runctl.Run
	done chan struct{}

	mu    sync.Mutex
	stats Stats
}

// Done is closed once the run has finished and released the run slot.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the run has completed or been cancelled.
func (h *RunHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Cancel asks the run to stop at its next cancellation point. It does not
// wait; use Wait for that.
func (h *RunHandle) Cancel() {
	h.run.Stop()
}

// Wait blocks until the run finishes or ctx is done.
func (h *RunHandle) Wait(ctx context.Context) (Stats, error) {
	select {
	case <-h.done:
		return h.Stats(), nil
	case <-ctx.Done():
		return h.Stats(), ctx.Err()
	}
}

// Stats returns a snapshot of the run counters.
func (h *RunHandle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *RunHandle) update(fn func(*Stats)) {
	h.mu.Lock()
	fn(&h.stats)
	h.mu.Unlock()
}
