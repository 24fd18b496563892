package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aleister1102/kaismonitor/internal/common/filelock"
	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/spf13/cobra"
)

func newIntervalCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "interval [6h|1d|6d]",
		Short:     "Show or change the scan interval",
		Long:      "Without an argument the active interval is printed. A running serve process picks up a new value when it restarts.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"6h", "1d", "6d"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.buildPipeline(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				if err := a.scans.SetInterval(ctx, args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.scans.Interval())
			return nil
		},
	}
}

func newStoragePathCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "storage-path [dir]",
		Short: "Show the storage root or move it to a new absolute directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			current := cfg.StorageConfig.BasePath
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), current)
				return nil
			}

			// The lock lives inside the directory being moved, so it is only
			// used to prove no other process holds the storage.
			lock := filelock.New(current)
			if err := lock.Acquire(); err != nil {
				return err
			}
			if err := lock.Unlock(); err != nil {
				return err
			}
			_ = os.Remove(lock.Path())

			moved, err := config.RelocateStorage(current, filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			if err := config.SaveStorageRecord(config.StorageRecordPath(), moved); err != nil {
				return err
			}
			log.Info().Str("from", current).Str("to", moved).Msg("Storage relocated")
			if os.Getenv(config.EnvStorageBase) != "" {
				log.Warn().Str("env", config.EnvStorageBase).Msg("Environment override is set and takes precedence over the saved storage path")
			}
			fmt.Fprintln(cmd.OutOrStdout(), moved)
			return nil
		},
	}
}
