package tray

import (
	"context"
	"errors"
	"log/slog"

	"recplay/internal/config"
	"recplay/internal/errkind"
	"recplay/internal/session"
)

// Panel is the tray control panel: one menu entry per session operation,
// enabled according to the session state.
type Panel struct {
	tray    *Tray
	session *session.Session
	cfg     *config.Manager
	logger  *slog.Logger

	record, stop, replay, cancel int
}

// NewPanel builds the menu. quit runs when the operator picks Quit.
func NewPanel(sess *session.Session, cfg *config.Manager, quit func(), logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Panel{
		session: sess,
		cfg:     cfg,
		logger:  logger.With("component", "tray"),
	}
	p.tray = New("recplay", "recplay: idle", p.refresh)

	p.record = p.tray.AddMenuItem("Start recording", p.onRecord)
	p.stop = p.tray.AddMenuItem("Stop recording", p.onStop)
	p.replay = p.tray.AddMenuItem("Replay", p.onReplay)
	p.cancel = p.tray.AddMenuItem("Cancel replay", func() { p.session.Cancel(nil) })
	p.tray.AddSeparator()
	p.tray.AddMenuItem("Quit", func() {
		quit()
		p.tray.Stop()
	})
	return p
}

// Run shows the tray and blocks until it is closed.
func (p *Panel) Run() {
	p.tray.Run()
}

// Stop closes the tray.
func (p *Panel) Stop() {
	p.tray.Stop()
}

// Watch keeps the menu in sync with session events until ctx is done.
func (p *Panel) Watch(ctx context.Context) {
	events, unsubscribe := p.session.Events().Subscribe(32)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			p.refresh()
		}
	}
}

func (p *Panel) refresh() {
	st := p.session.Status()
	m := menuFor(st)
	p.tray.SetItemEnabled(p.record, m.record)
	p.tray.SetItemEnabled(p.stop, m.stop)
	p.tray.SetItemEnabled(p.replay, m.replay)
	p.tray.SetItemEnabled(p.cancel, m.cancel)
	p.tray.SetTooltip("recplay: " + string(st.State))
}

type menuState struct {
	record, stop, replay, cancel bool
}

func menuFor(st session.Status) menuState {
	switch st.State {
	case session.StateRecording:
		return menuState{stop: true}
	case session.StateReplaying:
		return menuState{cancel: true}
	default:
		return menuState{record: true, replay: st.HasRecording}
	}
}

func (p *Panel) onRecord() {
	if _, err := p.session.StartRecording(); err != nil {
		p.logger.Warn("Cannot start recording", "error", err)
	}
}

func (p *Panel) onStop() {
	res, err := p.session.StopRecording()
	switch {
	case errors.Is(err, errkind.ErrNotRecording):
		return
	case err != nil:
		p.logger.Error("Failed to stop recording", "error", err)
	default:
		p.logger.Info("Recording stopped from tray", "actions", res.Log.Len())
	}
}

func (p *Panel) onReplay() {
	defaults := p.cfg.Get().Replay
	if _, err := p.session.Replay(defaults.Loops, defaults.Speed); err != nil {
		p.logger.Warn("Cannot start replay", "error", err)
	}
}
