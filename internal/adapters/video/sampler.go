package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/gazeset/internal/domain/window"
	"github.com/okian/gazeset/pkg/metrics"
)

// Decoder writes every frame of a clip as {prefix}_frame_{i}.jpg in dir,
// numbered from 0, and reports how many it wrote.
type Decoder interface {
	Decode(ctx context.Context, clip, dir, prefix string) (int, error)
}

// Sample is the outcome of sampling one clip.
type Sample struct {
	Decoded  int
	Retained int
}

// Sampler decodes subclips and keeps the trailing window of frames.
type Sampler struct {
	decoder Decoder
	window  *window.Window
}

// NewSampler creates a sampler. A nil window uses the default bounds.
func NewSampler(d Decoder, w *window.Window) *Sampler {
	if w == nil {
		w = window.New()
	}
	return &Sampler{decoder: d, window: w}
}

// Sample decodes clip into dir, deletes frames outside the window, renumbers
// the rest from 0 and removes clip.
func (s *Sampler) Sample(ctx context.Context, clip, dir, prefix string) (Sample, error) {
	n, err := s.decoder.Decode(ctx, clip, dir, prefix)
	if err != nil {
		return Sample{}, fmt.Errorf("decode %s: %w", clip, err)
	}
	kept := s.window.Retained(n)
	for _, st := range s.window.Plan(n) {
		from := filepath.Join(dir, FrameName(prefix, st.From))
		if !st.Keep() {
			if err := os.Remove(from); err != nil {
				return Sample{}, fmt.Errorf("remove frame %d: %w", st.From, err)
			}
			continue
		}
		if st.To != st.From {
			if err := os.Rename(from, filepath.Join(dir, FrameName(prefix, st.To))); err != nil {
				return Sample{}, fmt.Errorf("renumber frame %d to %d: %w", st.From, st.To, err)
			}
		}
	}
	if err := os.Remove(clip); err != nil {
		return Sample{}, fmt.Errorf("remove clip: %w", err)
	}
	metrics.RecordFrames(n, kept)
	return Sample{Decoded: n, Retained: kept}, nil
}
