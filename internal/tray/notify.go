package tray

import (
	"context"
	"fmt"
	"log/slog"

	"recplay/internal/session"

	"github.com/gen2brain/beeep"
)

// Notifier turns session events into desktop notifications.
type Notifier struct {
	// Notify shows one notification. Defaults to beeep.Notify.
	Notify func(title, message string) error
	// Enabled is consulted for every event, so configuration changes apply
	// immediately. Nil means always enabled.
	Enabled func() bool

	logger *slog.Logger
}

// NewNotifier creates a notifier backed by beeep.
func NewNotifier(enabled func() bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		Notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		Enabled: enabled,
		logger:  logger.With("component", "notify"),
	}
}

// Run delivers notifications for events on bus until ctx is done or the bus
// closes.
func (n *Notifier) Run(ctx context.Context, bus *session.Bus) {
	events, unsubscribe := bus.Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.Handle(ev)
		}
	}
}

// Handle notifies about ev if it is worth a notification.
func (n *Notifier) Handle(ev session.Event) {
	if n.Enabled != nil && !n.Enabled() {
		return
	}
	msg, ok := message(ev)
	if !ok {
		return
	}
	if err := n.Notify("recplay", msg); err != nil {
		n.logger.Debug("Notification failed", "error", err)
	}
}

func message(ev session.Event) (string, bool) {
	switch ev.Type {
	case session.EventRecordingStarted:
		return "Recording started", true
	case session.EventRecordingStopped:
		if ev.Error != "" {
			return fmt.Sprintf("Recording of %d actions could not be saved: %s", ev.Actions, ev.Error), true
		}
		return fmt.Sprintf("Recording saved (%d actions)", ev.Actions), true
	case session.EventReplayFinished:
		if ev.Stats == nil {
			return "Replay finished", true
		}
		if ev.Stats.Cancelled {
			return fmt.Sprintf("Replay cancelled after %d actions", ev.Stats.Dispatched), true
		}
		return fmt.Sprintf("Replay finished: %d loops, %d actions", ev.Stats.LoopsCompleted, ev.Stats.Dispatched), true
	}
	return "", false
}
