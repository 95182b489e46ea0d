package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pomotick/internal/app"
	"pomotick/internal/clock"
)

var (
	Version = "dev"
	Commit  = "none"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "pomotick",
		Version:       Version + " (" + Commit + ")",
		Short:         "Task timer with pomodoro cycles and overdue tracking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(f),
		newTickCmd(f),
		newConfigCmd(f),
		newTaskCmd(f),
	)
	return root
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the timer daemon until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(f.configPath)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopAppStop
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
}

// withRuntime bootstraps the shared components for a one-shot command.
// Console logging is reduced to warnings so command output stays readable.
func withRuntime(f *rootFlags, fn func(cmd *cobra.Command, rt *app.Runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfgm, _, err := app.LoadConfig(f.configPath, true)
		if err != nil {
			return err
		}
		cfg := *cfgm.Get()
		if lvl := cfg.Logging.Level; lvl == "" || lvl == "info" || lvl == "debug" || lvl == "trace" {
			cfg.Logging.Level = "warn"
		}
		cfg.Logging.Alerts.Enabled = false

		rt, err := app.Bootstrap(&cfg, clock.Real{})
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()
		return fn(cmd, rt, args)
	}
}
