// Package video wraps ffmpeg and ffprobe for chunk repair, subclip
// extraction and frame decoding.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

const (
	defaultFFmpeg  = "ffmpeg"
	defaultFFprobe = "ffprobe"
	// outputTail bounds how much process output is kept in errors.
	outputTail = 512
)

// Runner executes an external program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w, output: %s", name, err, tail(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(b)
}

// FFmpeg runs the ffmpeg operations of the segmenter and sampler.
type FFmpeg struct {
	ffmpeg     string
	ffprobe    string
	repairArgs []string
	runner     Runner
	log        logger.Logger
}

// NewFFmpeg creates an FFmpeg using binaries from PATH by default.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{
		ffmpeg:     defaultFFmpeg,
		ffprobe:    defaultFFprobe,
		repairArgs: []string{"-c:v", "libvpx", "-b:v", "2M", "-an"},
		runner:     ExecRunner{},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FFmpeg) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := f.runner.Run(ctx, f.ffmpeg, append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)...)
	metrics.ObserveFFmpeg(op, time.Since(start))
	if err != nil {
		return out, fmt.Errorf("%s: %w: %w", op, ErrFFmpeg, err)
	}
	return out, nil
}

// Repair re-encodes src into a fresh container at dst. Concatenated browser
// recordings carry broken timestamps; the transcode regenerates them. dst
// is only replaced when ffmpeg succeeds.
func (f *FFmpeg) Repair(ctx context.Context, src, dst string) error {
	tmp := tempSibling(dst)
	args := []string{"-fflags", "+genpts+discardcorrupt", "-i", src}
	args = append(args, f.repairArgs...)
	args = append(args, tmp)
	if _, err := f.run(ctx, "repair", args...); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Trim copies [startMS, endMS] of src into dst without re-encoding.
func (f *FFmpeg) Trim(ctx context.Context, src, dst string, startMS, endMS float64) error {
	if endMS < startMS {
		return fmt.Errorf("trim %s: end %.1fms before start %.1fms: %w", src, endMS, startMS, ErrFFmpeg)
	}
	_, err := f.run(ctx, "trim",
		"-ss", seconds(startMS),
		"-i", src,
		"-t", seconds(endMS-startMS),
		"-map", "0",
		"-c", "copy",
		dst,
	)
	return err
}

// Probe returns the container duration of path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (time.Duration, error) {
	start := time.Now()
	out, err := f.runner.Run(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	metrics.ObserveFFmpeg("probe", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", path, ErrProbe, err)
	}
	s := strings.TrimSpace(string(out))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: duration %q: %w: %w", path, s, ErrProbe, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// Decode writes every frame of clip to dir as {prefix}_frame_{i}.jpg,
// numbered from 0, and returns how many frames were written.
func (f *FFmpeg) Decode(ctx context.Context, clip, dir, prefix string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	pattern := filepath.Join(dir, prefix+"_frame_%d.jpg")
	if _, err := f.run(ctx, "decode",
		"-i", clip,
		"-fps_mode", "passthrough",
		"-q:v", "2",
		"-start_number", "0",
		pattern,
	); err != nil {
		return 0, err
	}
	n, err := CountFrames(dir, prefix)
	if err != nil {
		return 0, err
	}
	f.log.Debug(ctx, "decoded clip", logger.String("clip", clip), logger.Int("frames", n))
	return n, nil
}

// FrameName returns the file name of frame i.
func FrameName(prefix string, i int) string {
	return fmt.Sprintf("%s_frame_%d.jpg", prefix, i)
}

// CountFrames counts contiguous frames from index 0.
func CountFrames(dir, prefix string) (int, error) {
	n := 0
	for ; ; n++ {
		_, err := os.Stat(filepath.Join(dir, FrameName(prefix, n)))
		if errors.Is(err, os.ErrNotExist) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("stat frame %d: %w", n, err)
		}
	}
}

func seconds(ms float64) string {
	return strconv.FormatFloat(ms/1000, 'f', 3, 64)
}

// tempSibling keeps the extension so ffmpeg can infer the muxer.
func tempSibling(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".tmp" + ext
}
