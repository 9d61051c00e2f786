package video

import (
	"github.com/okian/gazeset/pkg/logger"
)

// Option applies a configuration option to FFmpeg.
type Option func(*FFmpeg)

// WithFFmpegPath sets the ffmpeg binary.
func WithFFmpegPath(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.ffmpeg = path
		}
	}
}

// WithFFprobePath sets the ffprobe binary.
func WithFFprobePath(path string) Option {
	return func(f *FFmpeg) {
		if path != "" {
			f.ffprobe = path
		}
	}
}

// WithRepairArgs sets the codec arguments used when repairing a
// concatenated recording.
func WithRepairArgs(args []string) Option {
	return func(f *FFmpeg) {
		if len(args) > 0 {
			f.repairArgs = append([]string(nil), args...)
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(f *FFmpeg) {
		if r != nil {
			f.runner = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(f *FFmpeg) {
		if l != nil {
			f.log = l
		}
	}
}
