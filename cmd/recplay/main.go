// recplay records mouse and keyboard input and replays it with the original
// timing.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"recplay/internal/config"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Manager
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "recplay",
		Short:         "Record mouse and keyboard input and replay it",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: per-user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newServeCmd(a),
		newRecordCmd(a),
		newReplayCmd(a),
		newShowCmd(a),
		newCtlCmd(a),
		newAutostartCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	bootstrap := newLogger(os.Stderr, a.logLevel, a.logFormat)

	if a.configPath != "" {
		a.cfg = config.NewManagerAt(a.configPath, bootstrap)
	} else {
		m, err := config.NewManager(bootstrap)
		if err != nil {
			return fmt.Errorf("initialize config: %w", err)
		}
		a.cfg = m
	}
	if err := a.cfg.Load(); err != nil {
		bootstrap.Warn("Failed to load config, using defaults", "path", a.cfg.Path(), "error", err)
	}

	cfg := a.cfg.Get()
	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Flags().Changed("log-level") {
		level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		format = a.logFormat
	}
	a.logger = newLogger(os.Stderr, level, format)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Skip config loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "recplay version %s\n", version)
		},
	}
}
