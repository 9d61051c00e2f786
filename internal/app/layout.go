package service

import (
	"fmt"
	"path/filepath"

	"github.com/okian/gazeset/internal/adapters/video"
	"github.com/okian/gazeset/internal/domain/model"
)

// Eye sides used in crop file names.
const (
	SideRight = "right"
	SideLeft  = "left"
	SideFull  = "full"
)

// Layout maps pipeline artifacts to paths.
type Layout struct {
	Input  string
	Work   string
	Output string
}

// RawVideo is the concatenated, unrepaired recording.
func (l Layout) RawVideo(pid string) string {
	return filepath.Join(l.Work, "full_videos", pid+".raw.webm")
}

// FullVideo is the repaired recording.
func (l Layout) FullVideo(pid string) string {
	return filepath.Join(l.Work, "full_videos", pid+".webm")
}

// DotsDir holds a participant's subclips, frames and metadata.
func (l Layout) DotsDir(pid string) string {
	return filepath.Join(l.Work, "dots", pid)
}

// SessionMeta is written by segmentation.
func (l Layout) SessionMeta(pid string) string {
	return filepath.Join(l.DotsDir(pid), "dots_meta.json")
}

// Clip is the subclip of one dot interval.
func (l Layout) Clip(pid string, dot int) string {
	return filepath.Join(l.DotsDir(pid), fmt.Sprintf("%s_%d.webm", pid, dot))
}

// FramePrefix is the frame file prefix of one dot interval.
func FramePrefix(pid string, dot int) string {
	return fmt.Sprintf("%s_%d", pid, dot)
}

// Frame is one retained frame.
func (l Layout) Frame(pid string, dot, i int) string {
	return filepath.Join(l.DotsDir(pid), video.FrameName(FramePrefix(pid, dot), i))
}

// ParticipantMeta is written by sampling.
func (l Layout) ParticipantMeta(pid string) string {
	return filepath.Join(l.DotsDir(pid), "participant.json")
}

// ParticipantIndex lists every sampled participant.
func (l Layout) ParticipantIndex() string {
	return filepath.Join(l.Work, "dots", "participant_meta.json")
}

// Processed holds the crops and example metadata.
func (l Layout) Processed() string {
	return filepath.Join(l.Output, "processed")
}

// ExampleMeta is one participant's normalized examples.
func (l Layout) ExampleMeta(pid string) string {
	return filepath.Join(l.Processed(), "meta", pid+".json")
}

// Info is the assembled dataset before rescaling.
func (l Layout) Info() string {
	return filepath.Join(l.Processed(), "info.json")
}

// NewInfo is the assembled dataset after rescaling.
func (l Layout) NewInfo() string {
	return filepath.Join(l.Processed(), "new_info.json")
}

// Records is the TFRecord container of one split.
func (l Layout) Records(s model.Split) string {
	return filepath.Join(l.Output, string(s)+".tfrecords")
}

// Report is the dataset report.
func (l Layout) Report() string {
	return filepath.Join(l.Output, "report.json")
}

// Plot is the label scatter plot.
func (l Layout) Plot() string {
	return filepath.Join(l.Output, "labels.png")
}

// CropName is the file name of one crop inside Processed.
func CropName(pid string, dot, frame int, side string) string {
	return fmt.Sprintf("%s_%d_%d_%s.jpg", pid, dot, frame, side)
}
