// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/vidcompress/pkg/pipeline"
	"github.com/user/vidcompress/pkg/ports"
)

// Config represents the full configuration for vidcompress.
type Config struct {
	// Encoding
	Width            int    `yaml:"width"`
	Bitrate          int    `yaml:"bitrate"`
	FrameRate        int    `yaml:"frame_rate"`
	Codec            string `yaml:"codec"`
	QueueDepth       int    `yaml:"queue_depth"`
	KeyFrameInterval int    `yaml:"keyframe_interval"`
	Filter           string `yaml:"filter"`

	// Tools
	FFmpegPath   string `yaml:"ffmpeg_path"`
	SoftwareOnly bool   `yaml:"software_only"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Debug
	Debug    bool   `yaml:"debug"`
	DebugDir string `yaml:"debug_dir"`

	// Metrics listen address, e.g. ":9090". Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		// Encoding
		Width:            pipeline.DefaultWidth,
		Bitrate:          pipeline.DefaultBitrate,
		FrameRate:        pipeline.DefaultFrameRate,
		Codec:            pipeline.DefaultCodec,
		QueueDepth:       pipeline.DefaultQueueDepth,
		KeyFrameInterval: pipeline.DefaultKeyFrameInterval,
		Filter:           string(pipeline.FilterCatmullRom),

		// Logging
		LogLevel: ports.LevelInfo.String(),

		// Debug
		DebugDir: "./debug",
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Width > pipeline.MaxWidth:
		return fmt.Errorf("width must be between 1 and %d, got %d", pipeline.MaxWidth, c.Width)
	case c.Bitrate <= 0:
		return fmt.Errorf("bitrate must be positive, got %d", c.Bitrate)
	case c.FrameRate <= 0 || c.FrameRate > 120:
		return fmt.Errorf("frame_rate must be between 1 and 120, got %d", c.FrameRate)
	case c.QueueDepth < 2:
		// The ffmpeg encoder emits each access unit once the next one starts.
		return fmt.Errorf("queue_depth must be at least 2, got %d", c.QueueDepth)
	case c.KeyFrameInterval <= 0:
		return fmt.Errorf("keyframe_interval must be positive, got %d", c.KeyFrameInterval)
	}

	switch pipeline.ScaleFilter(c.Filter) {
	case pipeline.FilterCatmullRom, pipeline.FilterBilinear, pipeline.FilterLanczos:
	default:
		return fmt.Errorf("unknown filter %q", c.Filter)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "quiet":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ToOptions converts Config to pipeline.Options.
func (c Config) ToOptions() pipeline.Options {
	return pipeline.Options{
		Width:            c.Width,
		Bitrate:          c.Bitrate,
		FrameRate:        c.FrameRate,
		Codec:            c.Codec,
		QueueDepth:       c.QueueDepth,
		KeyFrameInterval: c.KeyFrameInterval,
		Filter:           pipeline.ScaleFilter(c.Filter),
	}
}

// Level returns the parsed log level.
func (c Config) Level() ports.LogLevel {
	return ports.ParseLogLevel(c.LogLevel)
}
