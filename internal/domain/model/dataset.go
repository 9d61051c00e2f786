package model

import (
	"encoding/json"
	"fmt"
	"image"
)

// DotInterval is one gaze-target presentation aligned to video time.
type DotInterval struct {
	Index   int     `json:"index"`
	StartMS float64 `json:"time_run"`
	EndMS   float64 `json:"time_end"`
	Target  Coord   `json:"coords"`
}

// Frame is one decoded frame of a dot interval's subclip.
type Frame struct {
	ParticipantID string
	Dot           int
	Index         int
	Path          string
}

// Point is an integer pixel coordinate.
type Point struct {
	X int
	Y int
}

// MarshalJSON encodes a point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", p.X, p.Y)), nil
}

// UnmarshalJSON decodes a point from [x, y].
func (p *Point) UnmarshalJSON(b []byte) error {
	var xy [2]int
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("point %s: %w", b, err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Sub returns p relative to origin.
func (p Point) Sub(origin image.Point) Point {
	return Point{X: p.X - origin.X, Y: p.Y - origin.Y}
}

// NormPoint is a detector output point in normalized [0,1] image space.
type NormPoint struct {
	X float64
	Y float64
}

// Pixel converts a normalized point to pixels by scaling and truncating.
func (n NormPoint) Pixel(width, height int) Point {
	return Point{X: int(n.X * float64(width)), Y: int(n.Y * float64(height))}
}

// LandmarkSet is the indexed landmark list produced for one face.
type LandmarkSet []NormPoint

// EyeLandmarks are the two corner landmarks of one crop, re-based to the
// crop's top-left corner. L1 is the inner corner, L2 the outer one.
type EyeLandmarks [2]Point

// Split is the dataset partition an example belongs to.
type Split string

// Known splits.
const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

// Splits lists the known partitions in output order.
var Splits = []Split{SplitTrain, SplitValid, SplitTest}

// Valid reports whether s is a known partition.
func (s Split) Valid() bool {
	switch s {
	case SplitTrain, SplitValid, SplitTest:
		return true
	}
	return false
}

// Example is the atomic training unit.
type Example struct {
	Dot            int          `json:"dot"`
	Frame          int          `json:"frame"`
	FileNameRight  string       `json:"file_name_right"`
	FileNameLeft   string       `json:"file_name_left"`
	FileNameFull   string       `json:"file_name_full,omitempty"`
	RightLandmarks EyeLandmarks `json:"right_landmarks"`
	LeftLandmarks  EyeLandmarks `json:"left_landmarks"`
	Label          [2]float64   `json:"label"`
	Split          Split        `json:"split"`
}

// SessionMeta is what segmentation records for one participant.
type SessionMeta struct {
	ParticipantID string        `json:"participant_id"`
	ResultID      int64         `json:"result_id"`
	Viewport      Viewport      `json:"viewport"`
	DurationMS    float64       `json:"duration_ms,omitempty"`
	Intervals     []DotInterval `json:"intervals"`
}

// ParticipantMeta describes a segmented and sampled participant.
type ParticipantMeta struct {
	ParticipantID string   `json:"participant_id"`
	ResultID      int64    `json:"result_id"`
	DotCount      int      `json:"dot_count"`
	FrameCounts   []int    `json:"frame_counts"`
	Viewport      Viewport `json:"viewport"`
}

// ParticipantExamples are the normalized examples of one participant.
type ParticipantExamples struct {
	ParticipantID string    `json:"participant_id"`
	Split         Split     `json:"split"`
	Viewport      Viewport  `json:"viewport"`
	Rescaled      bool      `json:"rescaled,omitempty"`
	Examples      []Example `json:"examples"`

	// Skipped counts rejected frames by reason.
	Skipped map[string]int `json:"frames_skipped,omitempty"`
}

// Dataset is the metadata document written next to the crops.
type Dataset struct {
	Participants []ParticipantExamples `json:"participants"`
}

// Len returns the number of examples across all participants.
func (d *Dataset) Len() int {
	n := 0
	for _, p := range d.Participants {
		n += len(p.Examples)
	}
	return n
}
