package runctl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_SingleActiveRun(t *testing.T) {
	c := New()

	rec, err := c.Acquire(KindRecording)
	require.NoError(t, err)

	_, err = c.Acquire(KindReplay)
	var busy *BusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, KindRecording, busy.Active)
	assert.Equal(t, rec.ID, busy.ID)

	rec.Release()
	replay, err := c.Acquire(KindReplay)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, replay.ID)
	replay.Release()
}

func TestController_RequestStopCancelsActiveRun(t *testing.T) {
	c := New()
	r, err := c.Acquire(KindReplay)
	require.NoError(t, err)
	assert.False(t, r.StopRequested())

	c.RequestStop()
	assert.True(t, c.IsStopRequested())
	assert.True(t, r.StopRequested())
	select {
	case <-r.Context().Done():
	default:
		t.Fatal("run context not cancelled")
	}

	r.Release()
	c.Reset()
	assert.False(t, c.IsStopRequested())
}

func TestController_AcquireResetsStopFlag(t *testing.T) {
	c := New()
	c.RequestStop()
	require.True(t, c.IsStopRequested())

	r, err := c.Acquire(KindRecording)
	require.NoError(t, err)
	defer r.Release()
	assert.False(t, c.IsStopRequested())
	assert.False(t, r.StopRequested())
}

func TestRun_StopAfterReleaseDoesNotAffectNextRun(t *testing.T) {
	c := New()
	first, err := c.Acquire(KindReplay)
	require.NoError(t, err)
	first.Release()

	second, err := c.Acquire(KindReplay)
	require.NoError(t, err)
	defer second.Release()

	first.Stop()
	assert.False(t, second.StopRequested())
	assert.False(t, c.IsStopRequested())
}

func TestController_WaitBlocksUntilRelease(t *testing.T) {
	c := New()
	r, err := c.Acquire(KindReplay)
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(released)
		r.Release()
	}()

	require.NoError(t, c.Wait(context.Background()))
	select {
	case <-released:
	default:
		t.Fatal("Wait returned before Release")
	}
	_, ok := c.Active()
	assert.False(t, ok)
}

func TestController_WaitHonorsContext(t *testing.T) {
	c := New()
	r, err := c.Acquire(KindRecording)
	require.NoError(t, err)
	defer r.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}

func TestController_ConcurrentAcquireGrantsOneSlot(t *testing.T) {
	c := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*Run
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r, err := c.Acquire(KindReplay); err == nil {
				mu.Lock()
				granted = append(granted, r)
				mu.Unlock()
			}
			_ = c.IsStopRequested()
		}()
	}
	wg.Wait()

	require.Len(t, granted, 1)
	granted[0].Release()
	granted[0].Release()
}
