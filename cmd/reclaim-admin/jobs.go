package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/target/reclaim/internal/domain/model"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show finalize job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				stats, err := rt.Jobs.Stats(ctx, model.JobTypeFinalize)
				if err != nil {
					return fmt.Errorf("finalize job stats: %w", err)
				}
				return a.printStats(stats)
			})
		},
	}
}

func newReapOnceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reap-once",
		Short: "Run a single reaper tick: erase due entities, re-enqueue lost jobs, prune old jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.Reap(ctx); err != nil {
					return fmt.Errorf("reaper tick: %w", err)
				}
				return a.printResult(map[string]any{"ok": true}, "Reaper tick completed\n")
			})
		},
	}
}

func (a *app) printStats(stats *model.JobStats) error {
	if a.jsonOut {
		return a.printJSON(stats)
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	fmt.Fprintf(tw, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(tw, "running\t%d\n", stats.Running)
	fmt.Fprintf(tw, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(tw, "failed\t%d\n", stats.Failed)
	return tw.Flush()
}
