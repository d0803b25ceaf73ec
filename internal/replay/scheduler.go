// Package replay reproduces a recorded action log through an input
// synthesizer with the original timing, optionally looped and sped up.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/keycodec"
	"recplay/internal/runctl"
)

// EventType names a progress notification of a run.
type EventType string

const (
	EventStarted  EventType = "started"
	EventAction   EventType = "action"
	EventLoop     EventType = "loop"
	EventFinished EventType = "finished"
)

// Event is a progress notification delivered to the scheduler's observer.
type Event struct {
	Type   EventType
	RunID  string
	Loop   int
	Index  int
	Action action.Action
	Err    error
	Stats  Stats
}

// Options configures a Scheduler.
type Options struct {
	Logger *slog.Logger
	// KeyDwell is how long each replayed key is held down.
	KeyDwell time.Duration
	// Observer, when set, receives run events on the run goroutine. It must
	// not block.
	Observer func(Event)
	// Now overrides the clock used to anchor waits.
	Now func() time.Time
}

// Scheduler starts replay runs. At most one run is active at a time; the
// run slot is shared with recording through the controller.
type Scheduler struct {
	synth    input.Synthesizer
	ctl      *runctl.Controller
	logger   *slog.Logger
	dwell    atomic.Int64
	observer func(Event)
	now      func() time.Time

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler dispatching through synth.
func NewScheduler(synth input.Synthesizer, ctl *runctl.Controller, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dwell := opts.KeyDwell
	if dwell <= 0 {
		dwell = input.DefaultKeyDwell
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		synth:    synth,
		ctl:      ctl,
		logger:   logger.With("component", "replay"),
		observer: opts.Observer,
		now:      now,
	}
	s.dwell.Store(int64(dwell))
	return s
}

// SetKeyDwell changes how long replayed keys are held down. It applies to
// the next key of any run, including one already in progress.
func (s *Scheduler) SetKeyDwell(d time.Duration) {
	if d <= 0 {
		d = input.DefaultKeyDwell
	}
	s.dwell.Store(int64(d))
}

// KeyDwell returns the current key hold time.
func (s *Scheduler) KeyDwell() time.Duration {
	return time.Duration(s.dwell.Load())
}

// Replay validates the request, claims the run slot and starts the run on
// its own goroutine. The log is snapshotted; later changes to it do not
// affect the run.
func (s *Scheduler) Replay(log *action.Log, loops int, speed float64) (*RunHandle, error) {
	if err := Validate(loops, speed); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errkind.ErrNoRecording
	}

	run, err := s.ctl.Acquire(runctl.KindReplay)
	if err != nil {
		var busy *runctl.BusyError
		if errors.As(err, &busy) && busy.Active == runctl.KindRecording {
			return nil, errkind.ErrReplayInProgress.WithMessage("cannot replay while a recording is active")
		}
		return nil, errkind.ErrReplayInProgress.WithMessage(err.Error())
	}

	h := &RunHandle{
		ID:      run.ID,
		Loops:   loops,
		Speed:   speed,
		Actions: log.Len(),
		run:     run,
		done:    make(chan struct{}),
	}
	actions := log.Actions()

	s.wg.Add(1)
	go s.execute(h, actions)
	return h, nil
}

// Validate checks replay arguments without starting anything.
func Validate(loops int, speed float64) error {
	if loops < 1 {
		return errkind.ErrInvalidLoopCount.WithMessagef("loop count must be at least 1, got %d", loops)
	}
	if !(speed > 0) || math.IsInf(speed, 0) {
		return errkind.ErrInvalidSpeed.WithMessagef("speed must be a positive number, got %v", speed)
	}
	return nil
}

// Wait blocks until every run started by s has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) execute(h *RunHandle, actions []action.Action) {
	defer s.wg.Done()

	logger := s.logger.With("run", h.ID)
	ctx := h.run.Context()
	if p, ok := s.synth.(input.Preparer); ok {
		if err := p.Prepare(); err != nil {
			logger.Warn("Synthesizer not ready", "error", err)
		}
	}
	started := s.now()
	h.update(func(st *Stats) { st.Started = started })

	logger.Info("Replay started", "actions", len(actions), "loops", h.Loops, "speed", h.Speed)
	s.notify(Event{Type: EventStarted, RunID: h.ID, Stats: h.Stats()})

	cancelled := false
outer:
	for loop := 1; loop <= h.Loops; loop++ {
		iterStart := s.now()
		for i, a := range actions {
			if ctx.Err() != nil {
				cancelled = true
				break outer
			}

			// Waits are measured from the iteration start, so time spent
			// inside the synthesizer is absorbed by the next wait.
			target := iterStart.Add(scale(a.Timestamp, h.Speed))
			if !s.sleepUntil(ctx, target) {
				cancelled = true
				break outer
			}

			skipped, err := s.dispatch(a)
			switch {
			case skipped && err != nil:
				logger.Warn("Skipping action", "index", i, "action", a.String(), "error", err)
				h.update(func(st *Stats) { st.Skipped++ })
			case skipped:
				h.update(func(st *Stats) { st.Skipped++ })
			case err != nil:
				logger.Error("Failed to dispatch action", "index", i, "action", a.String(), "error", err)
				h.update(func(st *Stats) { st.Failed++ })
			default:
				logger.Debug("Dispatched action", "loop", loop, "index", i, "action", a.String())
				h.update(func(st *Stats) { st.Dispatched++ })
			}
			s.notify(Event{Type: EventAction, RunID: h.ID, Loop: loop, Index: i, Action: a, Err: err})
		}

		h.update(func(st *Stats) { st.LoopsCompleted = loop })
		s.notify(Event{Type: EventLoop, RunID: h.ID, Loop: loop, Stats: h.Stats()})
	}

	finished := s.now()
	h.update(func(st *Stats) {
		st.Cancelled = cancelled
		st.Finished = finished
	})
	stats := h.Stats()
	logger.Info("Replay finished",
		"cancelled", cancelled, "loops", stats.LoopsCompleted,
		"dispatched", stats.Dispatched, "skipped", stats.Skipped, "failed", stats.Failed,
		"elapsed", finished.Sub(started))

	// The slot is free before Done fires, so a caller that waited on the
	// handle can start the next run immediately.
	h.run.Release()
	s.notify(Event{Type: EventFinished, RunID: h.ID, Stats: stats})
	close(h.done)
}

// sleepUntil waits until target or until ctx is cancelled. It reports
// whether the run may proceed.
func (s *Scheduler) sleepUntil(ctx context.Context, target time.Time) bool {
	d := target.Sub(s.now())
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatch sends one action to the synthesizer. Skipped actions are not
// sent; err then explains why, if there is anything worth reporting.
func (s *Scheduler) dispatch(a action.Action) (skipped bool, err error) {
	switch a.Kind {
	case action.KindMove:
		return false, s.synth.MoveTo(a.Position.X, a.Position.Y)

	case action.KindClick:
		// The recorded press already produced a full click.
		if !a.Pressed {
			return true, nil
		}
		return false, s.synth.Click(a.Position.X, a.Position.Y, toInputButton(a.Button))

	case action.KindKey:
		h, err := keycodec.Decode(a.Key)
		if err != nil {
			return true, err
		}
		return false, s.synth.KeyPress(h, s.KeyDwell())
	}
	return true, errkind.ErrMalformedRecord.WithMessagef("unknown action kind %q", a.Kind)
}

func (s *Scheduler) notify(ev Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}

func scale(ts, speed float64) time.Duration {
	return time.Duration(ts / speed * float64(time.Second))
}

func toInputButton(b action.Button) input.Button {
	if b == action.ButtonRight {
		return input.ButtonRight
	}
	return input.ButtonLeft
}
