package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/aleister1102/kaismonitor/internal/scheduler"
	"github.com/spf13/cobra"
)

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), cmd, opts)
		},
	}
}

func runScan(ctx context.Context, cmd *cobra.Command, opts *rootOptions) error {
	a, err := openApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.buildPipeline(ctx); err != nil {
		return err
	}
	result, err := a.scans.RunScan(ctx)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printScanResult(cmd, result)
	return nil
}

func printScanResult(cmd *cobra.Command, r *models.ScanResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %d seen, %d new, %d updated, %d unchanged, %d downloaded (%s)\n",
		r.RunID, r.ItemsSeen, len(r.NewItems), len(r.UpdatedItems), len(r.UnchangedItems),
		len(r.Downloaded), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var listOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download monitored items whose local copy is missing or outdated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd, opts, listOnly)
		},
	}
	cmd.Flags().BoolVar(&listOnly, "dry-run", false, "Only list the items that would be downloaded")
	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, opts *rootOptions, listOnly bool) error {
	a, err := openApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.buildPipeline(ctx); err != nil {
		return err
	}

	if listOnly {
		candidates, err := a.syncs.Candidates(ctx)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), candidates, opts.jsonOutput)
	}

	status, err := a.syncs.Run(ctx)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}
	printSyncStatus(cmd, status)
	return nil
}

func printSyncStatus(cmd *cobra.Command, s scheduler.SyncStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sync: %d candidates, %d downloaded, %d errors\n", s.Total, len(s.Downloaded), len(s.Errors))
	for _, e := range s.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
}
