package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/aleister1102/kaismonitor/internal/datastore"
	"github.com/aleister1102/kaismonitor/internal/models"
	"github.com/spf13/cobra"
)

// itemView is an item as printed, with its derived sync state.
type itemView struct {
	models.ItemWithDownload
	SyncState models.SyncState `json:"sync_state"`
}

func newItemsCmd(opts *rootOptions) *cobra.Command {
	var (
		monitoredOnly bool
		status        string
		prefix        string
	)

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List tracked items, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.store.ListItems(ctx, models.ItemFilter{
				MonitoredOnly: monitoredOnly,
				Status:        models.ItemStatus(status),
				PathPrefix:    prefix,
			})
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items, opts.jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&monitoredOnly, "monitored", false, "Only monitored items")
	cmd.Flags().StringVar(&status, "status", "", "Only items with this status (new, updated, seen)")
	cmd.Flags().StringVar(&prefix, "path", "", "Only items at or below this remote path")
	return cmd
}

func printItems(w io.Writer, items []models.ItemWithDownload, asJSON bool) error {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		exists := false
		if item.LatestDownload != nil {
			_, err := os.Stat(item.LatestDownload.FilePath)
			exists = err == nil
		}
		views = append(views, itemView{ItemWithDownload: item, SyncState: item.SyncState(exists)})
	}
	if asJSON {
		return printJSON(w, views)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tSYNC\tFLAGS\tOBSERVED\tTITLE")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", v.ID, v.Status, v.SyncState, flags(v.Item), v.LastSeenDate, v.Title)
	}
	return tw.Flush()
}

func flags(item models.Item) string {
	switch {
	case item.Monitored:
		return "monitored"
	case item.Ignored:
		return "ignored"
	default:
		return "-"
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show item counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total %d, new %d, updated %d, monitored %d, ignored %d\n",
				stats.Total, stats.New, stats.Updated, stats.Monitored, stats.Ignored)
			return nil
		},
	}
}

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	return newFlagCmd(opts, "monitor", "Monitor an item so changes are downloaded automatically", func(on bool) datastore.FlagUpdate {
		return datastore.FlagUpdate{Monitored: &on}
	})
}

func newIgnoreCmd(opts *rootOptions) *cobra.Command {
	return newFlagCmd(opts, "ignore", "Ignore an item", func(on bool) datastore.FlagUpdate {
		return datastore.FlagUpdate{Ignored: &on}
	})
}

// newFlagCmd builds the monitor and ignore commands, which differ only in
// the flag they set.
func newFlagCmd(opts *rootOptions, name, short string, update func(on bool) datastore.FlagUpdate) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   name + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.MarkItemFlags(ctx, id, update(!off)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "item %d: %s=%t\n", id, name, !off)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Clear the flag instead of setting it")
	return cmd
}

func newMonitorPathCmd(opts *rootOptions) *cobra.Command {
	var (
		off    bool
		ignore bool
	)

	cmd := &cobra.Command{
		Use:   "monitor-path <prefix>",
		Short: "Monitor (or ignore) every item at or below a remote path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			on := !off
			update := datastore.FlagUpdate{Monitored: &on}
			if ignore {
				update = datastore.FlagUpdate{Ignored: &on}
			}
			n, err := a.store.MarkItemsByPath(ctx, args[0], update)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d items updated under %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "Clear the flag instead of setting it")
	cmd.Flags().BoolVar(&ignore, "ignore", false, "Set the ignored flag instead of monitored")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <item-id>",
		Short: "Show the change events and latest download of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), opts, id)
		},
	}
}

func runHistory(ctx context.Context, w io.Writer, opts *rootOptions, id int64) error {
	a, err := openApp(ctx, opts, false)
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	events, err := a.store.EventsForItem(ctx, id)
	if err != nil {
		return err
	}
	latest, err := a.store.LatestDownload(ctx, id)
	if err != nil && !isNotFound(err) {
		return err
	}

	if opts.jsonOutput {
		return printJSON(w, struct {
			Item           *models.Item     `json:"item"`
			Events         []models.Event   `json:"events"`
			LatestDownload *models.Download `json:"latest_download,omitempty"`
		}{item, events, latest})
	}

	fmt.Fprintf(w, "%s\n", item.Title)
	tw := newTable(w)
	fmt.Fprintln(tw, "RECORDED\tEVENT\tOBSERVED")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.RecordedAt.Format("2006-01-02 15:04:05"), e.Kind, e.ObservedDate)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if latest != nil {
		fmt.Fprintf(w, "latest download: %s (%d bytes, observed %s)\n", latest.FilePath, latest.SizeBytes, latest.ObservedDate)
	}
	return nil
}

func parseItemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", raw)
	}
	return id, nil
}
