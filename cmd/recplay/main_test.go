package main

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"recplay/internal/action"
	"recplay/internal/errkind"
	"recplay/internal/keycodec"
	"recplay/internal/replay"
	"recplay/internal/session"
	"recplay/internal/store"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1"))
	assert.True(t, isLoopback("::1"))
	assert.True(t, isLoopback("localhost"))
	assert.False(t, isLoopback("0.0.0.0"))
	assert.False(t, isLoopback(""))
	assert.False(t, isLoopback("192.168.1.4"))
}

func TestIgnoreKind(t *testing.T) {
	assert.NoError(t, ignoreKind(errkind.ErrNotRecording.WithMessage("idle"), errkind.ErrNotRecording))
	assert.True(t, errors.Is(ignoreKind(errkind.ErrPersistence, errkind.ErrNotRecording), errkind.ErrPersistence))
	assert.NoError(t, ignoreKind(nil, errkind.ErrNotRecording))
}

func TestPrintLog(t *testing.T) {
	log := action.NewFrozenLog([]action.Action{
		action.Move(10, 20, 0),
		action.Click(10, 20, action.ButtonLeft, true, 0.25),
		action.KeyPress(keycodec.Named(keycodec.Enter), 1.5),
	})
	var buf bytes.Buffer
	printLog(&buf, "actions.json", log, []store.Skipped{{Index: 3, Reason: errkind.ErrMalformedRecord.WithMessage("no type")}})

	out := buf.String()
	assert.Contains(t, out, "actions.json: 3 actions over 1.500s")
	assert.Contains(t, out, "move   (10,20)")
	assert.Contains(t, out, "click  (10,20) left press")
	assert.Contains(t, out, "key    enter")
	assert.Contains(t, out, "skipped record 3")
	assert.Equal(t, 5, strings.Count(out, "\n"))
}

func TestPrintEvent(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printEvent(&buf, session.Event{Type: session.EventRecordingStopped, RunID: "r1", Time: ts, Actions: 4})
	printEvent(&buf, session.Event{Type: session.EventReplayFinished, Time: ts, Stats: &replay.Stats{Dispatched: 9, Cancelled: true}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "recording_stopped")
	assert.Contains(t, lines[0], "actions=4")
	assert.Contains(t, lines[1], "dispatched=9")
	assert.Contains(t, lines[1], "cancelled=true")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "recplay version "+version+"\n", buf.String())
}
