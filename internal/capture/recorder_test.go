package capture

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/input"
	"recplay/internal/input/inputtest"
	"recplay/internal/keycodec"
	"recplay/internal/runctl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	pointer  *inputtest.PointerHook
	keyboard *inputtest.KeyboardHook
	ctl      *runctl.Controller
	rec      *Recorder
	start    time.Time
	stored   chan action.Action
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pointer:  inputtest.NewPointerHook(),
		keyboard: inputtest.NewKeyboardHook(),
		ctl:      runctl.New(),
		start:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		stored:   make(chan action.Action, 1024),
	}
	f.rec = NewRecorder(f.pointer, f.keyboard, f.ctl, Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return f.start },
		OnAction: func(a action.Action) { f.stored <- a },
	})
	return f
}

func (f *fixture) at(secs float64) time.Time {
	return f.start.Add(time.Duration(secs * float64(time.Second)))
}

// waitStored blocks until n more actions reached the log.
func (f *fixture) waitStored(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.stored:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for action %d of %d", i+1, n)
		}
	}
}

func TestRecorder_CapturesScenario(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Start()
	require.NoError(t, err)

	f.pointer.Emit(input.PointerEvent{Kind: input.PointerMove, X: 10, Y: 10, Time: f.at(0)})
	f.pointer.Emit(input.PointerEvent{Kind: input.PointerButton, X: 10, Y: 10, Button: input.ButtonLeft, Pressed: true, Time: f.at(0.3)})
	f.pointer.Emit(input.PointerEvent{Kind: input.PointerButton, X: 10, Y: 10, Button: input.ButtonLeft, Time: f.at(0.35)})
	f.waitStored(t, 3)
	f.keyboard.Emit(input.KeyEvent{Key: keycodec.RawKey{VK: 0x41}, Pressed: true, Time: f.at(0.5)})
	f.keyboard.Emit(input.KeyEvent{Key: keycodec.RawKey{VK: 0x41}, Time: f.at(0.55)})
	f.waitStored(t, 1)

	res, err := f.rec.Stop()
	require.NoError(t, err)
	assert.True(t, res.Log.Frozen())
	assert.Equal(t, []action.Action{
		action.Move(10, 10, 0),
		action.Click(10, 10, action.ButtonLeft, true, 0.3),
		action.Click(10, 10, action.ButtonLeft, false, 0.35),
		action.KeyPress(keycodec.Char('a'), 0.5),
	}, res.Log.Actions())
	assert.Zero(t, res.Dropped)
}

func TestRecorder_StartTwiceKeepsActiveLog(t *testing.T) {
	f := newFixture(t)
	firstID, err := f.rec.Start()
	require.NoError(t, err)

	f.pointer.Move(1, 1)
	f.waitStored(t, 1)

	_, err = f.rec.Start()
	assert.True(t, errors.Is(err, errkind.ErrAlreadyRecording))
	assert.True(t, f.rec.Recording())

	f.pointer.Move(2, 2)
	f.waitStored(t, 1)

	res, err := f.rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, firstID, res.RunID)
	assert.Equal(t, 2, res.Log.Len())
}

func TestRecorder_StopWithoutRecording(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Stop()
	assert.True(t, errors.Is(err, errkind.ErrNotRecording))
}

func TestRecorder_NothingAppendedAfterStop(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Start()
	require.NoError(t, err)
	f.pointer.Move(5, 5)
	f.waitStored(t, 1)

	res, err := f.rec.Stop()
	require.NoError(t, err)

	assert.False(t, f.pointer.Running())
	assert.False(t, f.keyboard.Running())
	assert.False(t, f.pointer.Move(6, 6))
	assert.False(t, f.keyboard.Tap(keycodec.RawKey{VK: 0x42}))
	assert.Equal(t, 1, res.Log.Len())

	_, busy := f.ctl.Active()
	assert.False(t, busy, "run slot must be released")
}

func TestRecorder_StopDrainsBufferedEvents(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Start()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		f.pointer.Move(i, i)
	}
	res, err := f.rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 50, res.Log.Len())
}

func TestRecorder_DropsUnsupportedInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Start()
	require.NoError(t, err)

	f.keyboard.Tap(keycodec.RawKey{VK: 0xFF})
	f.pointer.Button(3, 3, input.ButtonMiddle, true)
	f.keyboard.Tap(keycodec.RawKey{VK: 0x0D})
	f.waitStored(t, 1)

	res, err := f.rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Dropped)
	require.Equal(t, 1, res.Log.Len())
	assert.Equal(t, keycodec.Named(keycodec.Enter), res.Log.Actions()[0].Key)
}

func TestRecorder_StartDuringReplay(t *testing.T) {
	f := newFixture(t)
	run, err := f.ctl.Acquire(runctl.KindReplay)
	require.NoError(t, err)
	defer run.Release()

	_, err = f.rec.Start()
	assert.True(t, errors.Is(err, errkind.ErrReplayInProgress))
	assert.False(t, f.pointer.Running())
}

func TestRecorder_HookFailureReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.keyboard.StartErr = errors.New("no permission")

	_, err := f.rec.Start()
	require.Error(t, err)
	assert.False(t, f.pointer.Running(), "pointer hook must be rolled back")
	_, busy := f.ctl.Active()
	assert.False(t, busy)

	f.keyboard.StartErr = nil
	_, err = f.rec.Start()
	require.NoError(t, err)
	_, err = f.rec.Stop()
	require.NoError(t, err)
}

func TestRecorder_TimestampsNonDecreasingUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	var clockMu sync.Mutex
	clock := f.start
	f.rec.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	_, err := f.rec.Start()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f.pointer.Emit(input.PointerEvent{Kind: input.PointerMove, X: i, Y: i, Time: f.rec.now()})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f.keyboard.Emit(input.KeyEvent{Key: keycodec.RawKey{VK: 0x41 + uint16(i%26)}, Pressed: true, Time: f.rec.now()})
		}
	}()
	wg.Wait()

	res, err := f.rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 400, res.Log.Len())
	assert.NoError(t, action.Validate(res.Log.Actions()))
}
