// Package config provides configuration management for dvbrelay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "DVBRELAY"

// TSPacketSize is the size of one MPEG transport stream packet.
const TSPacketSize = 188

// Default configuration values.
const (
	defaultDeviceRoot      = "/dev/dvb"
	defaultSymbolRate      = 6900000
	defaultSettleDelay     = time.Second
	defaultChunkSize       = 7 * TSPacketSize
	defaultPollInterval    = time.Millisecond
	defaultListenHost      = "0.0.0.0"
	defaultPort            = 1234
	defaultStatsInterval   = 10 * time.Second
	defaultMetricsListen   = ":9464"
	defaultMetricsPath     = "/metrics"
	defaultLogFileMaxSize  = 100
	defaultLogFileBackups  = 3
	defaultLogFileMaxAgeDs = 28
)

// Output modes.
const (
	OutputTCP    = "tcp"
	OutputStdout = "stdout"
)

// Capture wait modes.
const (
	WaitModeSleep = "sleep"
	WaitModePoll  = "poll"
)

// Config holds all configuration for the application.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Tuning  TuningConfig  `mapstructure:"tuning"`
	Capture CaptureConfig `mapstructure:"capture"`
	Output  OutputConfig  `mapstructure:"output"`
	Stats   StatsConfig   `mapstructure:"stats"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// DeviceConfig locates the DVB adapter device nodes.
type DeviceConfig struct {
	Root     string `mapstructure:"root"`
	Adapter  int    `mapstructure:"adapter"`
	Frontend int    `mapstructure:"frontend"`
	Demux    int    `mapstructure:"demux"`
	DVR      int    `mapstructure:"dvr"`
}

// TuningConfig holds the DVB-C tuning parameters that are not given per run.
type TuningConfig struct {
	SymbolRate  uint32        `mapstructure:"symbol_rate"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// CaptureConfig controls how the DVR endpoint is drained.
type CaptureConfig struct {
	ChunkSize    int           `mapstructure:"chunk_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WaitMode     string        `mapstructure:"wait_mode"` // sleep, poll
	// DemuxBufferSize sets the kernel demux ring buffer. 0 keeps the driver default.
	DemuxBufferSize ByteSize `mapstructure:"demux_buffer_size"`
	// MaxReadErrors is the number of consecutive capture read errors that
	// aborts the relay. 0 means read errors are only logged.
	MaxReadErrors int `mapstructure:"max_read_errors"`
}

// OutputConfig selects the sink the stream is relayed to.
type OutputConfig struct {
	Mode       string `mapstructure:"mode"` // tcp, stdout
	ListenHost string `mapstructure:"listen_host"`
	Port       int    `mapstructure:"port"`
}

// StatsConfig controls periodic throughput logging.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 disables
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string        `mapstructure:"level"`  // debug, info, warn, error
	Format     string        `mapstructure:"format"` // json, text
	AddSource  bool          `mapstructure:"add_source"`
	TimeFormat string        `mapstructure:"time_format"`
	File       LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables a rotated log file alongside stderr.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ReadConfig installs defaults and environment binding on v and reads the
// config file. Without an explicit path a missing file is not an error;
// an explicit path that cannot be read always is.
// Environment variables are prefixed with DVBRELAY_ and use underscores for nesting.
// Example: DVBRELAY_OUTPUT_PORT=5000.
func ReadConfig(v *viper.Viper, configPath string) error {
	SetDefaults(v)
	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// ConfigureViper sets the config file search path and environment binding.
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/dvbrelay")
		v.AddConfigPath("$HOME/.dvbrelay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("device.root", defaultDeviceRoot)
	v.SetDefault("device.adapter", 0)
	v.SetDefault("device.frontend", 0)
	v.SetDefault("device.demux", 0)
	v.SetDefault("device.dvr", 0)

	// Tuning defaults
	v.SetDefault("tuning.symbol_rate", defaultSymbolRate)
	v.SetDefault("tuning.settle_delay", defaultSettleDelay)

	// Capture defaults
	v.SetDefault("capture.chunk_size", defaultChunkSize)
	v.SetDefault("capture.poll_interval", defaultPollInterval)
	v.SetDefault("capture.wait_mode", WaitModeSleep)
	v.SetDefault("capture.demux_buffer_size", 0)
	v.SetDefault("capture.max_read_errors", 0)

	// Output defaults
	v.SetDefault("output.mode", OutputTCP)
	v.SetDefault("output.listen_host", defaultListenHost)
	v.SetDefault("output.port", defaultPort)

	v.SetDefault("stats.interval", defaultStatsInterval)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "dvbrelay.log")
	v.SetDefault("logging.file.max_size_mb", defaultLogFileMaxSize)
	v.SetDefault("logging.file.max_backups", defaultLogFileBackups)
	v.SetDefault("logging.file.max_age_days", defaultLogFileMaxAgeDs)
	v.SetDefault("logging.file.compress", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", defaultMetricsListen)
	v.SetDefault("metrics.path", defaultMetricsPath)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Device.Root == "" {
		return fmt.Errorf("device.root is required")
	}
	if c.Device.Adapter < 0 || c.Device.Frontend < 0 || c.Device.Demux < 0 || c.Device.DVR < 0 {
		return fmt.Errorf("device indices must not be negative")
	}

	if c.Tuning.SymbolRate == 0 {
		return fmt.Errorf("tuning.symbol_rate must be greater than 0")
	}
	if c.Tuning.SettleDelay <= 0 {
		return fmt.Errorf("tuning.settle_delay must be greater than 0")
	}

	if c.Capture.ChunkSize < TSPacketSize || c.Capture.ChunkSize%TSPacketSize != 0 {
		return fmt.Errorf("capture.chunk_size must be a positive multiple of %d", TSPacketSize)
	}
	if c.Capture.PollInterval <= 0 {
		return fmt.Errorf("capture.poll_interval must be greater than 0")
	}
	if c.Capture.WaitMode != WaitModeSleep && c.Capture.WaitMode != WaitModePoll {
		return fmt.Errorf("capture.wait_mode must be one of: sleep, poll")
	}
	if c.Capture.DemuxBufferSize < 0 {
		return fmt.Errorf("capture.demux_buffer_size must not be negative")
	}
	if c.Capture.MaxReadErrors < 0 {
		return fmt.Errorf("capture.max_read_errors must not be negative")
	}

	switch c.Output.Mode {
	case OutputStdout:
	case OutputTCP:
		const maxPort = 65535
		if c.Output.Port < 1 || c.Output.Port > maxPort {
			return fmt.Errorf("output.port must be between 1 and %d", maxPort)
		}
	default:
		return fmt.Errorf("output.mode must be one of: tcp, stdout")
	}

	if c.Stats.Interval < 0 {
		return fmt.Errorf("stats.interval must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.File.Enabled && c.Logging.File.Path == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled is set")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
	}

	return nil
}
