package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sgpj-legal/internal/app"
	"sgpj-legal/internal/config"
	"sgpj-legal/internal/logger"
	"sgpj-legal/internal/scheduler"
)

var outputFmt string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notifyctl",
		Short:         "Operate the automatic notification scheduler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "json", "Output format: json, table")

	root.AddCommand(migrateCmd())
	root.AddCommand(runOnceCmd())
	root.AddCommand(statusCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			version, err := a.DB.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run one notification cycle and print its report",
		Long: `Run the hearing, step and stale-case scanners once, exactly as the
background loop would, and print the cycle report.

Examples:
  # Run a cycle
  notifyctl run-once

  # Human readable output
  notifyctl run-once -o table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Scheduler.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the next cycles would pick up",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.Scheduler.PendingSummary(cmd.Context())
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), sum)
		},
	}
}

// openApp loads configuration and connects; migrations are applied on the way.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New("notifyctl", cfg.LogLevel, "text")
	log.SetOutput(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.New(ctx, cfg, log)
}

func printReport(w io.Writer, r scheduler.Report) error {
	if outputFmt != "table" {
		return writeJSON(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(tw, "RESULT\t%s\n", r.Result())
	fmt.Fprintf(tw, "HEARINGS\t%d\n", r.HearingsNotified)
	fmt.Fprintf(tw, "STEPS\t%d\n", r.StepsNotified)
	fmt.Fprintf(tw, "CASES\t%d\n", r.CasesNotified)
	fmt.Fprintf(tw, "CREATED\t%d\n", r.NotificationsCreated)
	fmt.Fprintf(tw, "SKIPPED\t%d\n", r.DedupSkipped)
	fmt.Fprintf(tw, "DURATION\t%s\n", r.Duration())
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "ERROR\t%s\n", e)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s scheduler.Summary) error {
	if outputFmt != "table" {
		return writeJSON(w, s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ENABLED\t%t\n", s.Enabled)
	fmt.Fprintf(tw, "HEARINGS PENDING\t%d\n", s.HearingsPending)
	fmt.Fprintf(tw, "STEPS PENDING\t%d\n", s.StepsPending)
	fmt.Fprintf(tw, "STALE CASES\t%d\n", s.CasesPending)
	fmt.Fprintf(tw, "INTERVAL\t%dm\n", s.IntervalMinutes)
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
