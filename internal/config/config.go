// Package config loads playout settings from a YAML file, PLAYOUT_
// environment variables and defaults, in increasing order of precedence:
// defaults, then file, then environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/playout/internal/media"
)

// Default configuration values.
const (
	defaultSRTLatency     = 120 * time.Millisecond
	defaultSRTDialTimeout = 10 * time.Second
	defaultFrameRate      = "25"
)

// Factories names every producer factory the registry can be ordered from.
var Factories = []string{"device", "srt", "ts", "file"}

// Config holds all playout settings.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Device   DeviceConfig   `mapstructure:"device"`
	SRT      SRTConfig      `mapstructure:"srt"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// RegistryConfig sets which factories the registry tries, and in what
// order.
type RegistryConfig struct {
	Order []string `mapstructure:"order"`
}

// ChannelConfig describes the output channel producers are initialised
// for.
type ChannelConfig struct {
	// FrameRate is "num/den" or a whole number of frames per second.
	FrameRate string `mapstructure:"frame_rate"`
}

// PipelineConfig tunes the ingest pipeline.
type PipelineConfig struct {
	// MismatchTolerance is the audio/video timestamp drift that flushes a
	// partial packet batch. Zero means one output frame duration.
	MismatchTolerance time.Duration `mapstructure:"mismatch_tolerance"`
}

// DeviceConfig selects how capture devices are opened.
type DeviceConfig struct {
	InputFormat  string `mapstructure:"input_format"`
	PathTemplate string `mapstructure:"path_template"` // must contain %d
}

// SRTConfig holds SRT connection defaults.
type SRTConfig struct {
	Latency     time.Duration `mapstructure:"latency"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// FFmpegConfig tunes the libav backend.
type FFmpegConfig struct {
	LogLevel string `mapstructure:"log_level"` // quiet, error, warning, info, debug
	Threads  int    `mapstructure:"threads"`   // 0 = libav default
}

// Load reads configuration from file and environment variables.
// Environment variables are prefixed with PLAYOUT_ and use underscores for
// nesting, e.g. PLAYOUT_SRT_LATENCY=200ms.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("playout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/playout")
		v.AddConfigPath("$HOME/.playout")
	}

	v.SetEnvPrefix("PLAYOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for every option.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("registry.order", Factories)

	v.SetDefault("channel.frame_rate", defaultFrameRate)

	v.SetDefault("pipeline.mismatch_tolerance", time.Duration(0))

	v.SetDefault("device.input_format", "v4l2")
	v.SetDefault("device.path_template", "/dev/video%d")

	v.SetDefault("srt.latency", defaultSRTLatency)
	v.SetDefault("srt.dial_timeout", defaultSRTDialTimeout)

	v.SetDefault("ffmpeg.log_level", "error")
	v.SetDefault("ffmpeg.threads", 0)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if len(c.Registry.Order) == 0 {
		return fmt.Errorf("registry.order must name at least one factory")
	}
	seen := make(map[string]bool, len(c.Registry.Order))
	for _, name := range c.Registry.Order {
		if !slices.Contains(Factories, name) {
			return fmt.Errorf("registry.order: unknown factory %q (want one of: %s)", name, strings.Join(Factories, ", "))
		}
		if seen[name] {
			return fmt.Errorf("registry.order: factory %q listed twice", name)
		}
		seen[name] = true
	}

	if _, err := c.Channel.Properties(); err != nil {
		return err
	}
	if c.Pipeline.MismatchTolerance < 0 {
		return fmt.Errorf("pipeline.mismatch_tolerance must not be negative")
	}

	if c.Device.InputFormat == "" {
		return fmt.Errorf("device.input_format is required")
	}
	if strings.Count(c.Device.PathTemplate, "%d") != 1 {
		return fmt.Errorf("device.path_template must contain %%d exactly once")
	}

	if c.SRT.Latency < 0 {
		return fmt.Errorf("srt.latency must not be negative")
	}
	if c.SRT.DialTimeout <= 0 {
		return fmt.Errorf("srt.dial_timeout must be positive")
	}

	validLibav := map[string]bool{"quiet": true, "error": true, "warning": true, "info": true, "debug": true}
	if !validLibav[c.FFmpeg.LogLevel] {
		return fmt.Errorf("ffmpeg.log_level must be one of: quiet, error, warning, info, debug")
	}
	if c.FFmpeg.Threads < 0 {
		return fmt.Errorf("ffmpeg.threads must not be negative")
	}
	return nil
}

// Properties returns the channel properties for the configured frame rate.
func (c *ChannelConfig) Properties() (media.ChannelProperties, error) {
	rate, err := ParseFrameRate(c.FrameRate)
	if err != nil {
		return media.ChannelProperties{}, fmt.Errorf("channel.frame_rate: %w", err)
	}
	return media.ChannelProperties{VideoTimebase: rate.Invert()}, nil
}

// ParseFrameRate parses "num/den" or a whole number of frames per second.
func ParseFrameRate(s string) (media.Rational, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		den = "1"
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return media.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	d, err := strconv.Atoi(den)
	if err != nil {
		return media.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	r := media.NewRational(n, d)
	if !r.Valid() || n < 0 {
		return media.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	return r, nil
}
