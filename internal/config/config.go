// Package config defines pipeline configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Loading layers defaults, an optional YAML file and GAZESET_ env vars.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/gazeset/internal/domain/split"
)

// Decoder names accepted by the decoder field.
const (
	DecoderFFmpeg = "ffmpeg"
	DecoderOpenCV = "opencv"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`
	// LogFile, when set, receives a copy of every log line.
	LogFile string `koanf:"log_file"`

	// InputDir holds metadata.json and the per-result directories.
	InputDir string `koanf:"input_dir"`
	// WorkDir receives concatenated videos, subclips and sampled frames.
	WorkDir string `koanf:"work_dir"`
	// OutputDir receives crops, metadata, tfrecords and the report.
	OutputDir string `koanf:"output_dir"`

	// Splits is the ordered quota list, e.g. "29:train,3:valid,4:test".
	Splits string `koanf:"splits"`

	CropSize       int `koanf:"crop_size"`
	TrailingFrames int `koanf:"trailing_frames"`
	TailMargin     int `koanf:"tail_margin"`

	// Decoder selects the frame decoder: ffmpeg or opencv.
	Decoder     string   `koanf:"decoder"`
	FFmpegPath  string   `koanf:"ffmpeg_path"`
	FFprobePath string   `koanf:"ffprobe_path"`
	RepairArgs  []string `koanf:"repair_args"`

	JPEGQuality   int  `koanf:"jpeg_quality"`
	KeepFullFrame bool `koanf:"keep_full_frame"`

	// DetectorCmd is the landmark sidecar command line. It has no default and
	// is required by the normalize stage. The process reads one JSON request
	// per line on stdin, {"path": "<frame.jpg>"}, and answers each with one
	// line on stdout: {"landmarks": [[x, y], ...]} with coordinates
	// normalized to [0, 1] in face mesh index order, an empty list when no
	// face was found, or {"error": "<message>"}.
	DetectorCmd []string `koanf:"detector_cmd"`

	LedgerPath string `koanf:"ledger_path"`
	// Resume skips stages the ledger records as complete.
	Resume bool `koanf:"resume"`

	MetricsTextfile string `koanf:"metrics_textfile"`
	PushgatewayURL  string `koanf:"pushgateway_url"`
	ReportPlot      bool   `koanf:"report_plot"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		InputDir:        "data/raw",
		WorkDir:         "data/work",
		OutputDir:       "data/dataset",
		Splits:          "2:train,1:valid,1:test",
		CropSize:        128,
		TrailingFrames:  10,
		TailMargin:      5,
		Decoder:         DecoderFFmpeg,
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		RepairArgs:      []string{"-c:v", "libvpx", "-b:v", "2M", "-an"},
		JPEGQuality:     95,
		LedgerPath:      "data/work/ledger.db",
		Resume:          true,
		MetricsTextfile: "data/dataset/metrics.prom",
		ReportPlot:      true,
	}
}

// Quotas parses the configured split quota list.
func (c *Config) Quotas() ([]split.Quota, error) {
	qs, err := split.Parse(c.Splits)
	if err != nil {
		return nil, fmt.Errorf("splits: %w: %w", ErrInvalidConfig, err)
	}
	return qs, nil
}

// RequireDetector reports whether a landmark sidecar is configured.
func (c *Config) RequireDetector() error {
	if len(c.DetectorCmd) == 0 {
		return fmt.Errorf("detector_cmd must be set to normalize frames: %w", ErrInvalidConfig)
	}
	return nil
}

// Validate checks field ranges and required values.
func (c *Config) Validate() error {
	switch {
	case c.InputDir == "":
		return fmt.Errorf("input_dir must not be empty: %w", ErrInvalidConfig)
	case c.WorkDir == "":
		return fmt.Errorf("work_dir must not be empty: %w", ErrInvalidConfig)
	case c.OutputDir == "":
		return fmt.Errorf("output_dir must not be empty: %w", ErrInvalidConfig)
	case c.CropSize <= 0:
		return fmt.Errorf("crop_size %d must be positive: %w", c.CropSize, ErrInvalidConfig)
	case c.TrailingFrames <= 0:
		return fmt.Errorf("trailing_frames %d must be positive: %w", c.TrailingFrames, ErrInvalidConfig)
	case c.TailMargin < 0 || c.TailMargin > c.TrailingFrames:
		return fmt.Errorf("tail_margin %d must be within [0, trailing_frames]: %w", c.TailMargin, ErrInvalidConfig)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg_quality %d must be within [1, 100]: %w", c.JPEGQuality, ErrInvalidConfig)
	}
	switch strings.ToLower(c.Decoder) {
	case DecoderFFmpeg, DecoderOpenCV:
	default:
		return fmt.Errorf("decoder %q: want ffmpeg or opencv: %w", c.Decoder, ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q: want text or json: %w", c.LogFormat, ErrInvalidConfig)
	}
	if _, err := c.Quotas(); err != nil {
		return err
	}
	return nil
}
