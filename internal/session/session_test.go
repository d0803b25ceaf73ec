package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/input/inputtest"
	"recplay/internal/keycodec"
	"recplay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	pointer  *inputtest.PointerHook
	keyboard *inputtest.KeyboardHook
	synth    *inputtest.Synth
	store    *store.Store
	session  *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		pointer:  inputtest.NewPointerHook(),
		keyboard: inputtest.NewKeyboardHook(),
		synth:    inputtest.NewSynth(),
		store:    store.New(filepath.Join(t.TempDir(), "actions.json"), logger),
	}
	h.session = New(Config{
		Pointer:  h.pointer,
		Keyboard: h.keyboard,
		Synth:    h.synth,
		Store:    h.store,
		Logger:   logger,
		KeyDwell: time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.session.Shutdown(ctx)
	})
	return h
}

func waitRun(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestSession_RecordPersistReplay(t *testing.T) {
	h := newHarness(t)

	_, err := h.session.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, StateRecording, h.session.Status().State)

	h.pointer.Move(10, 10)
	h.pointer.Button(10, 10, 1, true)
	h.keyboard.Tap(keycodec.RawKey{VK: 0x41})

	res, err := h.session.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Log.Len())
	assert.True(t, h.store.Exists())

	st := h.session.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.HasRecording)

	run, err := h.session.Replay(1, 10)
	require.NoError(t, err)
	waitRun(t, run.Done())

	assert.Len(t, h.synth.Calls(), 3)
	st = h.session.Status()
	require.NotNil(t, st.Replay)
	assert.Equal(t, run.ID, st.Replay.ID)
	assert.True(t, st.Replay.Finished)
	assert.Equal(t, 3, st.Replay.Stats.Dispatched)
}

func TestSession_DoubleStartRecording(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.StartRecording()
	require.NoError(t, err)
	h.pointer.Move(1, 1)

	_, err = h.session.StartRecording()
	assert.True(t, errors.Is(err, errkind.ErrAlreadyRecording))

	res, err := h.session.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Log.Len())
}

func TestSession_StopWithoutRecording(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.StopRecording()
	assert.True(t, errors.Is(err, errkind.ErrNotRecording))
}

func TestSession_ReplayErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.session.Replay(0, 1)
	assert.True(t, errors.Is(err, errkind.ErrInvalidLoopCount))
	_, err = h.session.Replay(1, 0)
	assert.True(t, errors.Is(err, errkind.ErrInvalidSpeed))
	_, err = h.session.Replay(1, 1)
	assert.True(t, errors.Is(err, errkind.ErrNoRecording))

	_, err = h.session.StartRecording()
	require.NoError(t, err)
	_, err = h.session.Replay(1, 1)
	assert.True(t, errors.Is(err, errkind.ErrReplayInProgress))
}

func TestSession_ReplayInProgressAndCancel(t *testing.T) {
	h := newHarness(t)
	log := action.NewFrozenLog([]action.Action{action.Move(0, 0, 0), action.Move(1, 1, 10)})
	require.NoError(t, h.store.Save(log))

	run, err := h.session.Replay(1, 1)
	require.NoError(t, err)

	_, err = h.session.Replay(1, 1)
	assert.True(t, errors.Is(err, errkind.ErrReplayInProgress))
	_, err = h.session.StartRecording()
	assert.True(t, errors.Is(err, errkind.ErrReplayInProgress))

	found, ok := h.session.Lookup(run.ID)
	require.True(t, ok)
	h.session.Cancel(found)
	waitRun(t, run.Done())
	assert.True(t, run.Stats().Cancelled)

	_, ok = h.session.Lookup("other")
	assert.False(t, ok)
}

func TestSession_CancelNilStopsActiveReplay(t *testing.T) {
	h := newHarness(t)
	run, err := h.session.ReplayLog(action.NewFrozenLog([]action.Action{action.Move(0, 0, 10)}), 1, 1)
	require.NoError(t, err)

	h.session.Cancel(nil)
	waitRun(t, run.Done())
	assert.Empty(t, h.synth.Calls())
}

func TestSession_PersistFailureKeepsResult(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	h.session.store = store.New(filepath.Join(blocker, "actions.json"), nil)

	_, err := h.session.StartRecording()
	require.NoError(t, err)
	h.pointer.Move(3, 3)

	res, err := h.session.StopRecording()
	assert.True(t, errors.Is(err, errkind.ErrPersistence))
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Log.Len())
	assert.Equal(t, StateIdle, h.session.Status().State)
}

func TestSession_EventsPublished(t *testing.T) {
	h := newHarness(t)
	events, unsubscribe := h.session.Events().Subscribe(64)
	defer unsubscribe()

	_, err := h.session.StartRecording()
	require.NoError(t, err)
	h.pointer.Move(1, 1)
	_, err = h.session.StopRecording()
	require.NoError(t, err)

	run, err := h.session.Replay(1, 1)
	require.NoError(t, err)
	waitRun(t, run.Done())

	var types []EventType
	timeout := time.After(2 * time.Second)
	for len(types) < 6 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatalf("got only %v", types)
		}
	}
	assert.Equal(t, []EventType{
		EventRecordingStarted,
		EventRecordingStopped,
		EventReplayStarted,
		EventReplayAction,
		EventReplayLoop,
		EventReplayFinished,
	}, types)
}

func TestSession_ShutdownStopsEverything(t *testing.T) {
	h := newHarness(t)
	_, err := h.session.StartRecording()
	require.NoError(t, err)
	h.pointer.Move(7, 7)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.session.Shutdown(ctx))

	assert.False(t, h.pointer.Running())
	assert.True(t, h.store.Exists(), "recording in progress is persisted on shutdown")
}

func TestSession_RejectsRunsAfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(action.NewFrozenLog([]action.Action{action.Move(1, 1, 0)})))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.session.Shutdown(ctx))

	_, err := h.session.StartRecording()
	assert.True(t, errors.Is(err, errkind.ErrSessionClosed))
	assert.False(t, h.pointer.Running())
	assert.False(t, h.keyboard.Running())

	_, err = h.session.Replay(1, 1)
	assert.True(t, errors.Is(err, errkind.ErrSessionClosed))
	_, err = h.session.ReplayLog(action.NewFrozenLog([]action.Action{action.Move(2, 2, 0)}), 1, 1)
	assert.True(t, errors.Is(err, errkind.ErrSessionClosed))
	assert.Empty(t, h.synth.Calls())
	assert.Equal(t, StateIdle, h.session.Status().State)

	assert.NoError(t, h.session.Shutdown(ctx), "second shutdown is a no-op")
}

func TestSession_SetKeyDwellAppliesToReplay(t *testing.T) {
	h := newHarness(t)
	h.session.SetKeyDwell(100 * time.Millisecond)

	log := action.NewFrozenLog([]action.Action{
		action.KeyPress(keycodec.Char('x'), 0),
		action.KeyPress(keycodec.Char('y'), 0),
	})
	run, err := h.session.ReplayLog(log, 1, 1)
	require.NoError(t, err)
	waitRun(t, run.Done())

	calls := h.synth.Calls()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].At.Sub(calls[0].At), 100*time.Millisecond)
}
