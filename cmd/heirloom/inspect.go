package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cpunion/heirloom/pkg/mcpserver"
	"github.com/cpunion/heirloom/pkg/report"
	"github.com/cpunion/heirloom/pkg/simulation"
)

// checkpoint loads the given period, or the latest one when period is 0.
func (a *app) checkpoint(period int) (*simulation.Checkpoint, error) {
	out := a.outputDir()
	if period > 0 {
		return simulation.LoadCheckpoint(simulation.CheckpointPath(out, period))
	}
	cp, err := simulation.LatestCheckpoint(out)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("no checkpoints in %s", out)
	}
	return cp, nil
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show progress, resources and trust from a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, _ := cmd.Flags().GetInt("period")
			cp, err := a.checkpoint(period)
			if err != nil {
				return err
			}
			roster, err := a.roster()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(report.Build(cp, roster, time.Now())))
			return nil
		},
	}
	cmd.Flags().Int("period", 0, "Period checkpoint to show (default latest)")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export report.json and experiment_data.json from a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			period, _ := cmd.Flags().GetInt("period")
			jsonOut, _ := cmd.Flags().GetBool("json")
			cp, err := a.checkpoint(period)
			if err != nil {
				return err
			}
			roster, err := a.roster()
			if err != nil {
				return err
			}
			r := report.Build(cp, roster, time.Now())
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			out := a.outputDir()
			if err := report.Export(out, r, cp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report for run %s written to %s\n", cp.RunID, out)
			return nil
		},
	}
	cmd.Flags().Int("period", 0, "Period checkpoint to report (default latest)")
	cmd.Flags().Bool("json", false, "Print the report to stdout instead of writing files")
	return cmd
}

func newTimelineCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Print the scenario schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := a.timeline()
			if err != nil {
				return err
			}
			var done []string
			if cp, err := simulation.LatestCheckpoint(a.outputDir()); err == nil && cp != nil {
				done = cp.Timeline.CompletedEvents
			}
			w := cmd.OutOrStdout()
			for _, ev := range def.Events {
				mark := " "
				if slices.Contains(done, ev.ID) {
					mark = "x"
				}
				fmt.Fprintf(w, "[%s] P%d W%d  %-34s %-20s time %+.0f money %+.0f rep %+.0f\n",
					mark, ev.Period, ev.SubStep, ev.Title, ev.Type,
					ev.Impact.Time, ev.Impact.Money, ev.Impact.Reputation)
			}
			return nil
		},
	}
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve experiment checkpoints over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			roster, err := a.roster()
			if err != nil {
				return err
			}
			srv := mcpserver.NewServer(mcpserver.Config{
				Name:      "heirloom",
				Version:   version,
				OutputDir: a.outputDir(),
				Roster:    roster,
				Logger:    a.logger,
			})
			return srv.Run(ctx)
		},
	}
}
