package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pomotick/internal/app"
	"pomotick/internal/config"
)

func newTickCmd(f *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one reconciliation pass and exit",
		Long: `Run one reconciliation pass over every active task and exit.

Useful from cron or a systemd timer when the daemon is not running.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.RunE = withRuntime(f, func(cmd *cobra.Command, rt *app.Runtime, _ []string) error {
		rep, err := rt.Reconciler.Run(cmd.Context())
		if asJSON {
			if jerr := writeJSON(cmd.OutOrStdout(), rep); jerr != nil {
				return jerr
			}
		} else {
			renderReport(cmd.OutOrStdout(), rep)
		}
		return err
	})
	return cmd
}

func newConfigCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgm, found, err := app.LoadConfig(f.configPath, false)
			if err != nil {
				return err
			}
			cfg := cfgm.Get()
			sections, _ := config.SummarizeConfigChange(config.Default(), cfg)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: ok (found=%v)\n", f.configPath, found)
			if len(sections) == 0 {
				fmt.Fprintln(w, "all sections use defaults")
			} else {
				fmt.Fprintf(w, "differs from defaults: %s\n", strings.Join(sections, ", "))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), config.Default())
		},
	})
	return cmd
}
