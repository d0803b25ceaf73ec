package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"recplay/internal/api"
	"recplay/internal/errkind"
	"recplay/internal/hotkey"
	"recplay/internal/input"
	"recplay/internal/osutils"
	"recplay/internal/session"
	"recplay/internal/tray"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var noTray bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: tray, global hotkeys and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(noTray)
		},
	}
	cmd.Flags().BoolVar(&noTray, "no-tray", false, "run without the tray icon")
	return cmd
}

func (a *app) serve(noTray bool) error {
	logger := a.logger
	logger.Info("recplay agent starting", "version", version, "config", a.cfg.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := a.newSession("")
	a.syncAutostart()

	if err := a.cfg.Watch(ctx); err != nil {
		logger.Warn("Config file changes will not be picked up", "error", err)
	}

	// Hotkeys get their own keyboard hook so they keep working while the
	// recorder's hook is stopped.
	hk := hotkey.NewManager(input.NewKeyboardTrap(), logger)
	bindHotkeys(hk, a.cfg, hotkeyActions{
		Record: func() { logIfErr(a, "start recording", ignoreKind(startRecording(sess), errkind.ErrAlreadyRecording)) },
		Stop:   func() { logIfErr(a, "stop recording", ignoreKind(stopRecording(sess), errkind.ErrNotRecording)) },
		Replay: func() {
			d := a.cfg.Get().Replay
			_, err := sess.Replay(d.Loops, d.Speed)
			logIfErr(a, "replay", err)
		},
		Cancel: func() { sess.Cancel(nil) },
	}, logger)
	if err := hk.Start(); err != nil {
		logger.Warn("Hotkey engine failed to start", "error", err)
	}

	cfg := a.cfg.Get()
	apiDone := make(chan struct{})
	if cfg.API.Enabled {
		if host, portStr, err := net.SplitHostPort(cfg.API.Addr); err == nil && !isLoopback(host) {
			if port, err := strconv.Atoi(portStr); err == nil {
				go func() {
					if err := osutils.EnsureFirewallRule(port, logger); err != nil {
						logger.Warn("Firewall rule not applied", "error", err)
					}
				}()
			}
		}
		srv := api.NewServer(a.cfg, sess, logger)
		go func() {
			defer close(apiDone)
			if err := srv.Start(ctx, cfg.API.Addr); err != nil {
				logger.Error("Control API unavailable; recplay keeps running without it", "error", err)
			}
		}()
	} else {
		close(apiDone)
	}

	notifier := tray.NewNotifier(func() bool { return a.cfg.Get().General.Notifications }, logger)
	go notifier.Run(ctx, sess.Events())
	if !cfg.General.StartMinimized && cfg.General.Notifications {
		keys := cfg.Hotkeys
		msg := "Record " + keys.Record + ", stop " + keys.Stop + ", replay " + keys.Replay
		if err := notifier.Notify("recplay is running", msg); err != nil {
			logger.Debug("Startup notification failed", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if noTray {
		<-sigCh
		logger.Info("Signal received, shutting down")
	} else {
		panel := tray.NewPanel(sess, a.cfg, cancel, logger)
		go panel.Watch(ctx)
		go func() {
			select {
			case <-sigCh:
				logger.Info("Signal received, shutting down")
				panel.Stop()
			case <-ctx.Done():
			}
		}()
		// Blocks the main goroutine until Quit.
		panel.Run()
	}

	if err := hk.Stop(); err != nil {
		logger.Debug("Hotkey hook stop failed", "error", err)
	}
	// Close every entry point before the session is torn down.
	cancel()
	<-apiDone
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := sess.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
		return err
	}
	logger.Info("recplay agent stopped")
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func startRecording(sess *session.Session) error {
	_, err := sess.StartRecording()
	return err
}

func stopRecording(sess *session.Session) error {
	_, err := sess.StopRecording()
	return err
}

func ignoreKind(err error, kind error) error {
	if errors.Is(err, kind) {
		return nil
	}
	return err
}

func logIfErr(a *app, what string, err error) {
	if err != nil {
		a.logger.Warn("Hotkey action failed", "action", what, "error", err)
	}
}
