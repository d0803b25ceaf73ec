package tray

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"recplay/internal/replay"
	"recplay/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMenuFor(t *testing.T) {
	assert.Equal(t, menuState{record: true}, menuFor(session.Status{State: session.StateIdle}))
	assert.Equal(t, menuState{record: true, replay: true}, menuFor(session.Status{State: session.StateIdle, HasRecording: true}))
	assert.Equal(t, menuState{stop: true}, menuFor(session.Status{State: session.StateRecording, HasRecording: true}))
	assert.Equal(t, menuState{cancel: true}, menuFor(session.Status{State: session.StateReplaying, HasRecording: true}))
}

func TestMenuItemsBeforeRun(t *testing.T) {
	tr := New("recplay", "tip", nil)
	id := tr.AddMenuItem("One", nil)
	tr.AddSeparator()
	two := tr.AddMenuItem("Two", nil)

	tr.SetItemEnabled(id, false)
	tr.SetItemTitle(two, "Renamed")
	tr.SetItemEnabled(99, false)
	tr.SetTooltip("not shown yet")

	assert.True(t, tr.items[id].disabled)
	assert.Nil(t, tr.items[1])
	assert.Equal(t, "Renamed", tr.items[two].Title)
}

type notified struct{ title, msg string }

func newTestNotifier(enabled bool) (*Notifier, *[]notified) {
	var got []notified
	n := NewNotifier(func() bool { return enabled }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.Notify = func(title, msg string) error {
		got = append(got, notified{title, msg})
		return nil
	}
	return n, &got
}

func TestNotifierMessages(t *testing.T) {
	n, got := newTestNotifier(true)

	n.Handle(session.Event{Type: session.EventRecordingStopped, Actions: 12})
	n.Handle(session.Event{Type: session.EventRecordingStopped, Actions: 3, Error: "disk full"})
	n.Handle(session.Event{Type: session.EventReplayAction})
	n.Handle(session.Event{Type: session.EventReplayFinished, Stats: &replay.Stats{LoopsCompleted: 2, Dispatched: 6}})
	n.Handle(session.Event{Type: session.EventReplayFinished, Stats: &replay.Stats{Cancelled: true, Dispatched: 1}})

	require.Len(t, *got, 4)
	assert.Equal(t, "Recording saved (12 actions)", (*got)[0].msg)
	assert.Contains(t, (*got)[1].msg, "disk full")
	assert.Equal(t, "Replay finished: 2 loops, 6 actions", (*got)[2].msg)
	assert.Equal(t, "Replay cancelled after 1 actions", (*got)[3].msg)
}

func TestNotifierDisabled(t *testing.T) {
	n, got := newTestNotifier(false)
	n.Handle(session.Event{Type: session.EventRecordingStarted})
	assert.Empty(t, *got)
}

func TestNotifierSwallowsErrors(t *testing.T) {
	n, _ := newTestNotifier(true)
	n.Notify = func(string, string) error { return errors.New("no dbus") }
	assert.NotPanics(t, func() { n.Handle(session.Event{Type: session.EventRecordingStarted}) })
}
