// Package cmd implements the playout CLI commands.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zsiec/playout/internal/config"
	"github.com/zsiec/playout/internal/observability"
)

var version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "playout",
	Short:   "Broadcast playout ingest",
	Version: version,
	Long: `playout loads media sources (files, transport streams, capture devices
and SRT feeds) into producers that emit normalized 48 kHz 7.1 audio and
converted, deinterlaced video at the channel frame rate.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return initConfig(cmd.Flags())
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./playout.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfig loads the configuration, lets explicitly set flags override
// it, and installs the default logger. Priority: flag, env, file, default.
func initConfig(flags *pflag.FlagSet) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flags.Changed("log-level") {
		c.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.Logging.Format, _ = flags.GetString("log-format")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	slog.SetDefault(observability.NewLogger(cfg.Logging))
	return nil
}
