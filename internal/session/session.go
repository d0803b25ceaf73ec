// Package session is the control surface of recplay. It wires the recorder,
// the replay scheduler and the store around one cancellation controller and
// publishes lifecycle events to subscribers (tray, API, CLI).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"recplay/internal/action"
	"recplay/internal/capture"
	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/replay"
	"recplay/internal/runctl"
	"recplay/internal/store"
)

// State is what the session is doing.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateReplaying State = "replaying"
)

// Status is a snapshot of the session.
type Status struct {
	State        State         `json:"state"`
	RunID        string        `json:"run_id,omitempty"`
	HasRecording bool          `json:"has_recording"`
	LogPath      string        `json:"log_path"`
	Replay       *ReplayStatus `json:"replay,omitempty"`
}

// ReplayStatus describes the latest replay run.
type ReplayStatus struct {
	ID       string       `json:"id"`
	Loops    int          `json:"loops"`
	Speed    float64      `json:"speed"`
	Actions  int          `json:"actions"`
	Finished bool         `json:"finished"`
	Stats    replay.Stats `json:"stats"`
}

// Config holds the session dependencies.
type Config struct {
	Pointer  input.PointerHook
	Keyboard input.KeyboardHook
	Synth    input.Synthesizer
	Store    *store.Store
	Logger   *slog.Logger
	KeyDwell time.Duration
}

// Session coordinates recording and replay. All methods are safe for
// concurrent use.
type Session struct {
	ctl       *runctl.Controller
	recorder  *capture.Recorder
	scheduler *replay.Scheduler
	store     *store.Store
	logger    *slog.Logger
	bus       *Bus

	mu         sync.Mutex
	lastReplay *replay.RunHandle

	// gate is held shared while a run starts and exclusively by Shutdown,
	// so no run can start once closed is set.
	gate   sync.RWMutex
	closed bool
}

// New builds a session from its dependencies.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		ctl:    runctl.New(),
		store:  cfg.Store,
		logger: logger.With("component", "session"),
		bus:    NewBus(),
	}
	s.recorder = capture.NewRecorder(cfg.Pointer, cfg.Keyboard, s.ctl, capture.Options{Logger: logger})
	s.scheduler = replay.NewScheduler(cfg.Synth, s.ctl, replay.Options{
		Logger:   logger,
		KeyDwell: cfg.KeyDwell,
		Observer: s.onReplayEvent,
	})
	return s
}

// SetKeyDwell changes how long replayed keys are held down.
func (s *Session) SetKeyDwell(d time.Duration) {
	s.scheduler.SetKeyDwell(d)
}

// Events returns the session event bus.
func (s *Session) Events() *Bus {
	return s.bus
}

// StartRecording begins a new recording.
func (s *Session) StartRecording() (string, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed {
		return "", errkind.ErrSessionClosed.WithMessage("session is shut down")
	}
	id, err := s.recorder.Start()
	if err != nil {
		return "", err
	}
	s.bus.Publish(Event{Type: EventRecordingStarted, RunID: id})
	return id, nil
}

// StopRecording ends the active recording and persists it, replacing the
// previous recording. The returned result is valid even when persisting
// fails; the error then carries ErrPersistence.
func (s *Session) StopRecording() (*capture.Result, error) {
	res, err := s.recorder.Stop()
	if err != nil {
		return nil, err
	}

	ev := Event{Type: EventRecordingStopped, RunID: res.RunID, Actions: res.Log.Len()}
	if err := s.store.Save(res.Log); err != nil {
		s.logger.Error("Failed to persist recording", "run", res.RunID, "error", err)
		ev.Error = err.Error()
		s.bus.Publish(ev)
		return res, fmt.Errorf("persist recording %s: %w", res.RunID, err)
	}
	s.bus.Publish(ev)
	return res, nil
}

// Replay loads the persisted recording and replays it.
func (s *Session) Replay(loops int, speed float64) (*replay.RunHandle, error) {
	if err := replay.Validate(loops, speed); err != nil {
		return nil, err
	}
	if s.recorder.Recording() {
		return nil, errkind.ErrReplayInProgress.WithMessage("cannot replay while a recording is active")
	}

	log, _, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	return s.ReplayLog(log, loops, speed)
}

// ReplayLog replays log without touching the store.
func (s *Session) ReplayLog(log *action.Log, loops int, speed float64) (*replay.RunHandle, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed {
		return nil, errkind.ErrSessionClosed.WithMessage("session is shut down")
	}
	h, err := s.scheduler.Replay(log, loops, speed)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastReplay = h
	s.mu.Unlock()
	return h, nil
}

// Cancel requests cancellation of the given run. A nil handle cancels
// whatever replay is active. Cancel never waits.
func (s *Session) Cancel(h *replay.RunHandle) {
	if h != nil {
		h.Cancel()
		return
	}
	if run, ok := s.ctl.Active(); ok && run.Kind == runctl.KindReplay {
		run.Stop()
	}
}

// Lookup returns the latest replay run if it has the given id.
func (s *Session) Lookup(id string) (*replay.RunHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReplay == nil || s.lastReplay.ID != id {
		return nil, false
	}
	return s.lastReplay, true
}

// LoadRecording returns the persisted recording.
func (s *Session) LoadRecording() (*action.Log, []store.Skipped, error) {
	return s.store.Load()
}

// Status reports the current state.
func (s *Session) Status() Status {
	st := Status{
		State:        StateIdle,
		HasRecording: s.store.Exists(),
		LogPath:      s.store.Path(),
	}
	if run, ok := s.ctl.Active(); ok {
		st.RunID = run.ID
		switch run.Kind {
		case runctl.KindRecording:
			st.State = StateRecording
		case runctl.KindReplay:
			st.State = StateReplaying
		}
	}

	s.mu.Lock()
	h := s.lastReplay
	s.mu.Unlock()
	if h != nil {
		st.Replay = &ReplayStatus{
			ID:       h.ID,
			Loops:    h.Loops,
			Speed:    h.Speed,
			Actions:  h.Actions,
			Finished: h.Finished(),
			Stats:    h.Stats(),
		}
	}
	return st
}

// Shutdown stops an active recording (persisting it), cancels an active
// replay and waits for every goroutine the session started. Afterwards
// StartRecording and Replay fail with ErrSessionClosed.
func (s *Session) Shutdown(ctx context.Context) error {
	s.gate.Lock()
	already := s.closed
	s.closed = true
	s.gate.Unlock()
	if already {
		return nil
	}

	var errs []error

	if s.recorder.Recording() {
		if _, err := s.StopRecording(); err != nil && !errors.Is(err, errkind.ErrNotRecording) {
			errs = append(errs, err)
		}
	}

	s.Cancel(nil)
	done := make(chan struct{})
	go func() {
		s.scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for replay: %w", ctx.Err()))
	}

	s.bus.Close()
	s.logger.Info("Session shut down")
	return errors.Join(errs...)
}

func (s *Session) onReplayEvent(ev replay.Event) {
	out := Event{RunID: ev.RunID, Loop: ev.Loop, Index: ev.Index}
	switch ev.Type {
	case replay.EventStarted:
		out.Type = EventReplayStarted
	case replay.EventAction:
		out.Type = EventReplayAction
		out.Action = ev.Action.String()
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	case replay.EventLoop:
		out.Type = EventReplayLoop
	case replay.EventFinished:
		out.Type = EventReplayFinished
		stats := ev.Stats
		out.Stats = &stats
	default:
		return
	}
	s.bus.Publish(out)
}
