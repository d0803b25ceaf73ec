package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"recplay/internal/action"
	"recplay/internal/hotkey"
	"recplay/internal/input"
	"recplay/internal/store"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	moveColor  = color.New(color.FgCyan)
	clickColor = color.New(color.FgYellow)
	keyColor   = color.New(color.FgGreen)
	badColor   = color.New(color.FgRed)
	boldColor  = color.New(color.Bold)
)

// interrupt returns a channel closed on Ctrl+C, SIGTERM or the given
// hotkey, plus a func releasing the signal handler and the hotkey hook.
func (a *app) interrupt(combo string) (<-chan struct{}, func()) {
	done := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(done) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	stopSig := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fire()
		case <-stopSig:
		}
	}()

	var hk *hotkey.Manager
	if combo != "" {
		hk = hotkey.NewManager(input.NewKeyboardTrap(), a.logger)
		if err := hk.Register(combo, fire); err != nil {
			a.logger.Warn("Hotkey unavailable", "hotkey", combo, "error", err)
			hk = nil
		} else if err := hk.Start(); err != nil {
			a.logger.Warn("Hotkey engine failed to start", "error", err)
			hk = nil
		}
	}

	return done, func() {
		signal.Stop(sigCh)
		close(stopSig)
		if hk != nil {
			_ = hk.Stop()
		}
	}
}

func newRecordCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record input until Ctrl+C or the stop hotkey",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.newSession(file)
			defer shutdown(a, sess.Shutdown)

			stopKey := a.cfg.Get().Hotkeys.Stop
			done, release := a.interrupt(stopKey)
			defer release()

			if _, err := sess.StartRecording(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording. Press Ctrl+C or %s to stop.\n", boldColor.Sprint(stopKey))
			<-done

			res, err := sess.StopRecording()
			if res == nil {
				return err
			}
			fmt.Fprintf(out, "Recorded %s actions in %s",
				boldColor.Sprint(res.Log.Len()), res.Duration.Round(time.Millisecond))
			if res.Dropped > 0 {
				badColor.Fprintf(out, " (%d events dropped)", res.Dropped)
			}
			fmt.Fprintln(out)
			if err != nil {
				badColor.Fprintf(out, "Not saved: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "Saved to %s\n", sess.Status().LogPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "log file (default: storage.log_path)")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var (
		file  string
		loops int
		speed float64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the recorded input",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := a.cfg.Get().Replay
			if !cmd.Flags().Changed("loops") {
				loops = defaults.Loops
			}
			if !cmd.Flags().Changed("speed") {
				speed = defaults.Speed
			}

			sess := a.newSession(file)
			defer shutdown(a, sess.Shutdown)

			cancelKey := a.cfg.Get().Hotkeys.Cancel
			done, release := a.interrupt(cancelKey)
			defer release()

			h, err := sess.Replay(loops, speed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Replaying %d actions, %d loop(s) at %gx. Press Ctrl+C or %s to cancel.\n",
				h.Actions, h.Loops, h.Speed, boldColor.Sprint(cancelKey))

			select {
			case <-h.Done():
			case <-done:
				sess.Cancel(h)
			}
			stats, _ := h.Wait(context.Background())

			status := color.GreenString("finished")
			if stats.Cancelled {
				status = color.YellowString("cancelled")
			}
			fmt.Fprintf(out, "Replay %s: %d loop(s), %d dispatched, %d skipped, %d failed in %s\n",
				status, stats.LoopsCompleted, stats.Dispatched, stats.Skipped, stats.Failed,
				stats.Finished.Sub(stats.Started).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "log file (default: storage.log_path)")
	cmd.Flags().IntVarP(&loops, "loops", "n", 1, "number of times to replay the log")
	cmd.Flags().Float64VarP(&speed, "speed", "s", 1, "speed multiplier")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		file   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the recorded log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = a.cfg.LogPath()
			}
			log, skipped, err := store.New(path, a.logger).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := store.Marshal(log.Actions())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			printLog(out, path, log, skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "log file (default: storage.log_path)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the canonical JSON form")
	return cmd
}

func printLog(w io.Writer, path string, log *action.Log, skipped []store.Skipped) {
	boldColor.Fprintf(w, "%s: %d actions over %.3fs\n", path, log.Len(), log.Duration())
	for i, act := range log.Actions() {
		fmt.Fprintf(w, "%5d  %9.3f  ", i, act.Timestamp)
		switch act.Kind {
		case action.KindMove:
			moveColor.Fprintf(w, "move   %s\n", act.Position)
		case action.KindClick:
			state := "release"
			if act.Pressed {
				state = "press"
			}
			clickColor.Fprintf(w, "click  %s %s %s\n", act.Position, act.Button, state)
		case action.KindKey:
			keyColor.Fprintf(w, "key    %s\n", act.Key)
		}
	}
	for _, sk := range skipped {
		badColor.Fprintf(w, "skipped record %d: %v\n", sk.Index, sk.Reason)
	}
}

func shutdown(a *app, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.logger.Error("Shutdown incomplete", "error", err)
	}
}
