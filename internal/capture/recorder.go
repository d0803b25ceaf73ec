// Package capture records live pointer and keyboard input into an action log.
//
// A recording runs two listener goroutines, one per hook, that translate raw
// events into actions and hand them to a single appender goroutine. The
// appender owns the log while the recording is active, so actions from both
// sources land in one ordered sequence without sharing a lock.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/keycodec"
	"recplay/internal/runctl"
)

// Result summarizes a finished recording.
type Result struct {
	RunID    string
	Log      *action.Log
	Dropped  int64
	Duration time.Duration
}

// Options configures a Recorder.
type Options struct {
	Logger *slog.Logger
	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time
	// OnAction, when set, is called from the appender for every stored action.
	// It must not call back into the Recorder.
	OnAction func(action.Action)
}

// Recorder captures input sessions. It is safe for concurrent use; at most
// one recording is active at a time.
type Recorder struct {
	pointer  input.PointerHook
	keyboard input.KeyboardHook
	ctl      *runctl.Controller
	logger   *slog.Logger
	now      func() time.Time
	onAction func(action.Action)

	mu     sync.Mutex
	active *recording
}

type recording struct {
	run     *runctl.Run
	log     *action.Log
	start   time.Time
	actions chan action.Action

	listeners sync.WaitGroup
	appended  chan struct{}
	dropped   atomic.Int64
}

// NewRecorder creates a recorder that reads from the given hooks and claims
// runs from ctl.
func NewRecorder(pointer input.PointerHook, keyboard input.KeyboardHook, ctl *runctl.Controller, opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		pointer:  pointer,
		keyboard: keyboard,
		ctl:      ctl,
		logger:   logger.With("component", "capture"),
		now:      now,
		onAction: opts.OnAction,
	}
}

// Recording reports whether a recording is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Start begins a new recording with an empty log. It fails with
// ErrAlreadyRecording while a recording is active, leaving that recording
// untouched, and with ErrReplayInProgress while a replay holds the run slot.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return "", errkind.ErrAlreadyRecording.WithMessagef("recording %s is active", r.active.run.ID)
	}

	run, err := r.ctl.Acquire(runctl.KindRecording)
	if err != nil {
		var busy *runctl.BusyError
		if errors.As(err, &busy) && busy.Active == runctl.KindReplay {
			return "", errkind.ErrReplayInProgress.WithMessage(busy.Error())
		}
		return "", errkind.ErrAlreadyRecording.WithMessage(err.Error())
	}

	if err := r.pointer.Start(); err != nil {
		run.Release()
		return "", fmt.Errorf("start pointer hook: %w", err)
	}
	if err := r.keyboard.Start(); err != nil {
		r.pointer.Stop()
		run.Release()
		return "", fmt.Errorf("start keyboard hook: %w", err)
	}

	rec := &recording{
		run:      run,
		log:      action.NewLog(),
		start:    r.now(),
		actions:  make(chan action.Action, 256),
		appended: make(chan struct{}),
	}

	rec.listeners.Add(2)
	go r.listenPointer(rec, r.pointer.Events())
	go r.listenKeyboard(rec, r.keyboard.Events())
	go r.append(rec)

	r.active = rec
	r.logger.Info("Recording started", "run", run.ID)
	return run.ID, nil
}

// Stop ends the active recording and returns its frozen log. Stop returns
// only after both listeners and the appender have exited; no action is added
// to the log afterwards.
func (r *Recorder) Stop() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.active
	if rec == nil {
		return nil, errkind.ErrNotRecording
	}

	rec.run.Stop()
	if err := r.pointer.Stop(); err != nil {
		r.logger.Warn("Failed to stop pointer hook", "error", err)
	}
	if err := r.keyboard.Stop(); err != nil {
		r.logger.Warn("Failed to stop keyboard hook", "error", err)
	}

	rec.listeners.Wait()
	close(rec.actions)
	<-rec.appended

	rec.log.Freeze()
	rec.run.Release()
	r.active = nil

	res := &Result{
		RunID:    rec.run.ID,
		Log:      rec.log,
		Dropped:  rec.dropped.Load(),
		Duration: r.now().Sub(rec.start),
	}
	r.logger.Info("Recording stopped",
		"run", res.RunID, "actions", rec.log.Len(), "dropped", res.Dropped, "duration", res.Duration)
	return res, nil
}

func (r *Recorder) elapsed(rec *recording, at time.Time) float64 {
	if at.IsZero() {
		at = r.now()
	}
	secs := at.Sub(rec.start).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// The listeners drain their channel until the hook closes it. A stopped hook
// closes its channel only after its last event, so everything buffered
// happened before Stop.
func (r *Recorder) listenPointer(rec *recording, events <-chan input.PointerEvent) {
	defer rec.listeners.Done()

	for ev := range events {
		ts := r.elapsed(rec, ev.Time)

		switch ev.Kind {
		case input.PointerMove:
			rec.actions <- action.Move(ev.X, ev.Y, ts)
		case input.PointerButton:
			button, ok := toButton(ev.Button)
			if !ok {
				rec.dropped.Add(1)
				continue
			}
			rec.actions <- action.Click(ev.X, ev.Y, button, ev.Pressed, ts)
		}
	}
}

func (r *Recorder) listenKeyboard(rec *recording, events <-chan input.KeyEvent) {
	defer rec.listeners.Done()

	for ev := range events {
		// Releases carry no information the log keeps.
		if !ev.Pressed {
			continue
		}

		key, ok := keycodec.Encode(ev.Key)
		if !ok {
			rec.dropped.Add(1)
			r.logger.Debug("Dropping unsupported key", "key", key.String())
			continue
		}
		rec.actions <- action.KeyPress(key, r.elapsed(rec, ev.Time))
	}
}

// append is the only writer of rec.log while the recording is active. It
// clamps timestamps so the log stays non-decreasing when the two listeners
// deliver slightly out of order.
func (r *Recorder) append(rec *recording) {
	defer close(rec.appended)

	last := 0.0
	for a := range rec.actions {
		if a.Timestamp < last {
			a.Timestamp = last
		}
		last = a.Timestamp
		rec.log.Append(a)
		if r.onAction != nil {
			r.onAction(a)
		}
	}
}

func toButton(b input.Button) (action.Button, bool) {
	switch b {
	case input.ButtonLeft:
		return action.ButtonLeft, true
	case input.ButtonRight:
		return action.ButtonRight, true
	}
	return "", false
}
