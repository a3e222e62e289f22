// Package cmd implements the CLI commands for dvbrelay.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/dvbrelay/internal/config"
	"github.com/jmylchreest/dvbrelay/internal/observability"
	"github.com/jmylchreest/dvbrelay/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// logCloser releases the rotated log file, if one was opened.
var logCloser io.Closer

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "dvbrelay",
	Short:   "Relay a DVB-C transport stream to stdout or a TCP client",
	Version: version.Short(),
	Long: `dvbrelay tunes a Linux DVB-C adapter to one channel, passes the complete
transport stream through the demultiplexer and relays the raw bytes either to
standard output or to a single TCP client.

Logs are always written to stderr so stdout carries nothing but the stream.`,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags are NOT bound to viper. They override config/env only when
	// explicitly set, checked with Changed().
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/dvbrelay/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	readConfig(viper.GetViper(), cfgFile, os.Stderr)
}

// readConfig loads path (or the default search locations) into v and reports
// the outcome on w. Stream and dump validate the result later.
func readConfig(v *viper.Viper, path string, w io.Writer) {
	if err := config.ReadConfig(v, path); err != nil {
		fmt.Fprintln(w, "Error:", err)
		return
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintln(w, "Using config file:", used)
	}
}

// initLogging configures the slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (DVBRELAY_LOGGING_LEVEL, DVBRELAY_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	logCfg := config.LoggingConfig{
		Level:      viper.GetString("logging.level"),
		Format:     viper.GetString("logging.format"),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
		File: config.LogFileConfig{
			Enabled:    viper.GetBool("logging.file.enabled"),
			Path:       viper.GetString("logging.file.path"),
			MaxSizeMB:  viper.GetInt("logging.file.max_size_mb"),
			MaxBackups: viper.GetInt("logging.file.max_backups"),
			MaxAgeDays: viper.GetInt("logging.file.max_age_days"),
			Compress:   viper.GetBool("logging.file.compress"),
		},
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Format == "" {
		logCfg.Format = "json"
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	w, closer := observability.OutputWriter(logCfg, os.Stderr)
	logCloser = closer

	logger := observability.NewLoggerWithWriter(logCfg, w)
	observability.SetDefault(logger.With("app", version.ApplicationName))

	return nil
}
