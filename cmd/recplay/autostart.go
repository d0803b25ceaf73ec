package main

import (
	"fmt"

	"recplay/internal/autostart"

	"github.com/spf13/cobra"
)

func newAutostartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting the agent on login",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Start the agent on login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.setAutostart(cmd, true)
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop starting the agent on login",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.setAutostart(cmd, false)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the agent starts on login",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				state := "disabled"
				if autostart.IsEnabled() {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Auto-start is %s\n", state)
			},
		},
	)
	return cmd
}

// setAutostart applies the login entry and records the choice in the
// config file.
func (a *app) setAutostart(cmd *cobra.Command, enabled bool) error {
	apply, verb := autostart.Disable, "disabled"
	if enabled {
		apply, verb = autostart.Enable, "enabled"
	}
	if err := apply(); err != nil {
		return err
	}

	cfg := a.cfg.Get()
	cfg.General.StartOnBoot = enabled
	if err := a.cfg.Set(cfg); err != nil {
		return err
	}
	if err := a.cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Auto-start %s\n", verb)
	return nil
}

// syncAutostart brings the login entry in line with general.start_on_boot.
func (a *app) syncAutostart() {
	want := a.cfg.Get().General.StartOnBoot
	if autostart.IsEnabled() == want {
		return
	}
	apply := autostart.Disable
	if want {
		apply = autostart.Enable
	}
	if err := apply(); err != nil {
		a.logger.Warn("Failed to apply start_on_boot", "enabled", want, "error", err)
		return
	}
	a.logger.Info("Auto-start updated", "enabled", want)
}
