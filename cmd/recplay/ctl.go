package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recplay/internal/action"
	"recplay/internal/client"
	"recplay/internal/session"
	"recplay/internal/store"

	"github.com/spf13/cobra"
)

func newCtlCmd(a *app) *cobra.Command {
	var (
		addr  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running recplay agent over its API",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "agent address (default: api.addr)")
	cmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (default: api.token)")

	connect := func() (*client.Client, error) {
		cfg := a.cfg.Get()
		if addr == "" {
			addr = cfg.API.Addr
		}
		if token == "" {
			token = cfg.API.Token
		}
		return client.New(addr, token, a.logger)
	}
	// run wraps a one-shot request with a client and a timeout.
	run := func(fn func(ctx context.Context, c *client.Client, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			return fn(ctx, c, cmd.OutOrStdout(), args)
		}
	}

	var (
		loops int
		speed float64
	)
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Start a replay",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, _ []string) error {
			res, err := c.Replay(ctx, loops, speed)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Replay %s started: %d actions, %d loop(s) at %gx\n", res.ID, res.Actions, res.Loops, res.Speed)
			return nil
		}),
	}
	replayCmd.Flags().IntVarP(&loops, "loops", "n", 0, "number of loops (default: agent config)")
	replayCmd.Flags().Float64VarP(&speed, "speed", "s", 0, "speed multiplier (default: agent config)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start recording",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, _ []string) error {
				res, err := c.StartRecording(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Recording %s started\n", res.RunID)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop recording and save the log",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, _ []string) error {
				res, err := c.StopRecording(ctx)
				if res.RunID != "" {
					fmt.Fprintf(out, "Recording %s stopped: %d actions over %.3fs", res.RunID, res.Actions, res.LastAction)
					if res.Dropped > 0 {
						badColor.Fprintf(out, " (%d events dropped)", res.Dropped)
					}
					fmt.Fprintln(out)
					if res.Persisted {
						fmt.Fprintf(out, "Saved to %s\n", res.Path)
					}
				}
				return err
			}),
		},
		replayCmd,
		&cobra.Command{
			Use:   "cancel [id]",
			Short: "Cancel the active replay, or the one with the given id",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				}
				if err := c.Cancel(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cancellation requested")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status [replay-id]",
			Short: "Show the agent status, or the state of one replay",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				var (
					v   any
					err error
				)
				if len(args) == 1 {
					v, err = c.ReplayStatus(ctx, args[0])
				} else {
					v, err = c.Status(ctx)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}),
		},
		&cobra.Command{
			Use:   "log",
			Short: "Print the agent's recorded log",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, c *client.Client, out io.Writer, _ []string) error {
				res, err := c.Log(ctx)
				if err != nil {
					return err
				}
				actions, _, err := store.Unmarshal(res.Actions)
				if err != nil {
					return err
				}
				printLog(out, res.Path, action.NewFrozenLog(actions), nil)
				for _, sk := range res.Skipped {
					badColor.Fprintf(out, "skipped record %d: %s\n", sk.Index, sk.Reason)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Stream session events until Ctrl+C",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := connect()
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				out := cmd.OutOrStdout()
				return c.Watch(ctx, func(ev session.Event) { printEvent(out, ev) })
			},
		},
	)
	return cmd
}

func printEvent(w io.Writer, ev session.Event) {
	ts := ev.Time.Format("15:04:05.000")
	switch ev.Type {
	case session.EventReplayAction:
		moveColor.Fprintf(w, "%s %-18s #%d %s\n", ts, ev.Type, ev.Index, ev.Action)
	case session.EventReplayLoop:
		fmt.Fprintf(w, "%s %-18s loop %d\n", ts, ev.Type, ev.Loop)
	case session.EventReplayFinished:
		if ev.Stats != nil {
			keyColor.Fprintf(w, "%s %-18s dispatched=%d skipped=%d failed=%d cancelled=%t\n", ts, ev.Type,
				ev.Stats.Dispatched, ev.Stats.Skipped, ev.Stats.Failed, ev.Stats.Cancelled)
			return
		}
		keyColor.Fprintf(w, "%s %s\n", ts, ev.Type)
	default:
		line := fmt.Sprintf("%s %-18s %s", ts, ev.Type, ev.RunID)
		if ev.Actions > 0 {
			line += fmt.Sprintf(" actions=%d", ev.Actions)
		}
		if ev.Error != "" {
			badColor.Fprintln(w, line+" error="+ev.Error)
			return
		}
		boldColor.Fprintln(w, line)
	}
}
