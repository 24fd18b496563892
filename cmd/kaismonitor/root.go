package main

import (
	"fmt"
	"os"

	"github.com/aleister1102/kaismonitor/internal/config"
	"github.com/aleister1102/kaismonitor/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kaismonitor",
		Short: "Track the KAIS cadastral OpenData tree and keep local copies current",
		Long: `kaismonitor walks the KAIS OpenData listing, records every file it finds,
and downloads the files you monitor whenever the remote copy changes.
Downloaded archives are extracted, their layer folders consolidated per
category and the shapefile fragments of each category merged.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML/JSON configuration file (searches default locations when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newSyncCmd(opts),
		newItemsCmd(opts),
		newStatsCmd(opts),
		newMonitorCmd(opts),
		newIgnoreCmd(opts),
		newMonitorPathCmd(opts),
		newHistoryCmd(opts),
		newIntervalCmd(opts),
		newStoragePathCmd(opts),
	)
	return cmd
}

// load reads and validates the configuration, then builds the root logger.
func (o *rootOptions) load() (*config.GlobalConfig, zerolog.Logger, error) {
	bootstrap := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadGlobalConfig(o.configPath, bootstrap)
	if err != nil {
		return nil, bootstrap, fmt.Errorf("could not load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogConfig.LogLevel = o.logLevel
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, bootstrap, err
	}

	log, err := logger.New(cfg.LogConfig)
	if err != nil {
		return nil, bootstrap, fmt.Errorf("could not initialize logger: %w", err)
	}
	log.Debug().Str("storage", cfg.StorageConfig.BasePath).Msg("Configuration loaded")
	return cfg, log, nil
}
