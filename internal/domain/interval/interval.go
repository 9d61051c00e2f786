// Package interval aligns gaze-target presentations from an event log to
// absolute video time.
//
// The recorder can be paused; the paused time is added back so that
// canvas-relative timestamps line up with the concatenated video.
package interval

import (
	"fmt"

	"github.com/okian/gazeset/internal/domain/model"
)

// Default event vocabulary of the recording study.
const (
	DefaultResumeSender = "i4"
	DefaultPauseSender  = "i5"
	DefaultCanvasSender = "bdot_canvas"

	StateRecording = "recording"
	StatePaused    = "paused"
)

// Option applies a configuration option to the Extractor.
type Option func(*Extractor)

// WithSenders overrides the sender names of the resume, pause and canvas events.
func WithSenders(resume, pause, canvas string) Option {
	return func(e *Extractor) {
		if resume != "" {
			e.resumeSender = resume
		}
		if pause != "" {
			e.pauseSender = pause
		}
		if canvas != "" {
			e.canvasSender = canvas
		}
	}
}

// Extractor turns an ordered event log into dot intervals.
type Extractor struct {
	resumeSender string
	pauseSender  string
	canvasSender string
}

// NewExtractor creates an extractor with the default vocabulary.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		resumeSender: DefaultResumeSender,
		pauseSender:  DefaultPauseSender,
		canvasSender: DefaultCanvasSender,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// anchors is the running state of a scan.
type anchors struct {
	resume    *float64
	padding   float64
	hasPad    bool
	canvas    *float64
	intervals []model.DotInterval
}

// Extract scans events in order and returns intervals numbered from 0.
//
// A canvas event carrying both time_run and time_end closes an interval:
//
//	start = (time_run - canvas_anchor) + padding
//	end   = (time_end - canvas_anchor) + padding
//
// Referencing an anchor that was never set fails with ErrUnresolvedAnchor.
func (x *Extractor) Extract(events []model.Event) ([]model.DotInterval, error) {
	var st anchors
	for row, ev := range events {
		switch {
		case ev.Sender == x.resumeSender && ev.RecState == StateRecording:
			if ev.RecStamp == nil {
				return nil, fmt.Errorf("row %d: resume event without stamp: %w", row, ErrMalformedEvent)
			}
			st.resume = ev.RecStamp

		case ev.Sender == x.pauseSender && ev.RecState == StatePaused:
			if ev.RecStamp == nil {
				return nil, fmt.Errorf("row %d: pause event without stamp: %w", row, ErrMalformedEvent)
			}
			if st.resume == nil {
				return nil, fmt.Errorf("row %d: pause before any resume: %w", row, ErrUnresolvedAnchor)
			}
			st.padding += *ev.RecStamp - *st.resume
			st.hasPad = true

		case ev.Sender == x.canvasSender:
			if err := x.canvasEvent(&st, row, ev); err != nil {
				return nil, err
			}
		}
	}
	return st.intervals, nil
}

func (x *Extractor) canvasEvent(st *anchors, row int, ev model.Event) error {
	if ev.RecState == StateRecording && ev.RecStamp != nil {
		st.canvas = ev.RecStamp
	}
	if ev.TimeRun == nil || ev.TimeEnd == nil {
		return nil
	}
	if st.canvas == nil {
		return fmt.Errorf("row %d: canvas anchor never set: %w", row, ErrUnresolvedAnchor)
	}
	if !st.hasPad {
		return fmt.Errorf("row %d: padding offset never set: %w", row, ErrUnresolvedAnchor)
	}

	start := (*ev.TimeRun - *st.canvas) + st.padding
	end := (*ev.TimeEnd - *st.canvas) + st.padding
	if end < start {
		return fmt.Errorf("row %d: end %.0fms before start %.0fms: %w", row, end, start, ErrInvalidInterval)
	}

	var target model.Coord
	if ev.Coords != nil {
		target = *ev.Coords
	}
	st.intervals = append(st.intervals, model.DotInterval{
		Index:   len(st.intervals),
		StartMS: start,
		EndMS:   end,
		Target:  target,
	})
	return nil
}

// Extract runs the default extractor.
func Extract(events []model.Event) ([]model.DotInterval, error) {
	return NewExtractor().Extract(events)
}
