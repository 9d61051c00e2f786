// Package rescale corrects gaze labels for the participant's viewport aspect
// ratio. Labels are recorded in a square coordinate space; multiplying y by
// height/width maps them onto the participant's actual display.
package rescale

import (
	"fmt"

	"github.com/okian/gazeset/internal/domain/model"
)

// Ratio returns height/width of the viewport.
func Ratio(vp model.Viewport) (float64, error) {
	if vp.InnerWidth <= 0 || vp.InnerHeight <= 0 {
		return 0, fmt.Errorf("viewport %gx%g: %w", vp.InnerWidth, vp.InnerHeight, ErrInvalidViewport)
	}
	return vp.InnerHeight / vp.InnerWidth, nil
}

// Apply returns label with its y component multiplied by ratio.
func Apply(label [2]float64, ratio float64) [2]float64 {
	return [2]float64{label[0], label[1] * ratio}
}

// Participant rescales every example of p in place using p's viewport.
// The ratio is computed once per participant.
func Participant(p *model.ParticipantExamples) (float64, error) {
	if p.Rescaled {
		return 0, fmt.Errorf("participant %s: %w", p.ParticipantID, ErrAlreadyRescaled)
	}
	r, err := Ratio(p.Viewport)
	if err != nil {
		return 0, fmt.Errorf("participant %s: %w", p.ParticipantID, err)
	}
	for i := range p.Examples {
		p.Examples[i].Label = Apply(p.Examples[i].Label, r)
	}
	p.Rescaled = true
	return r, nil
}
