// Package report summarizes a packaged dataset: per-split counts, label
// statistics and a label scatter plot.
package report

import (
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/okian/gazeset/internal/domain/model"
)

// SplitStats describes one partition.
type SplitStats struct {
	Split        model.Split `json:"split"`
	Participants int         `json:"participants"`
	Examples     int         `json:"examples"`
	LabelMeanX   float64     `json:"label_mean_x"`
	LabelMeanY   float64     `json:"label_mean_y"`
	LabelStdX    float64     `json:"label_std_x"`
	LabelStdY    float64     `json:"label_std_y"`
}

// Report is written as report.json.
type Report struct {
	RunID       string         `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Splits      []SplitStats   `json:"splits"`
	Examples    int            `json:"examples"`
	Dropped     int            `json:"dropped"`
	Skipped     map[string]int `json:"frames_skipped,omitempty"`
}

// Build computes statistics over ds. Examples with an unknown split are
// counted as dropped.
func Build(runID string, ds *model.Dataset, skipped map[string]int) Report {
	r := Report{RunID: runID, GeneratedAt: time.Now().UTC(), Skipped: skipped}

	xs := map[model.Split][]float64{}
	ys := map[model.Split][]float64{}
	people := map[model.Split]int{}
	for _, p := range ds.Participants {
		seen := map[model.Split]bool{}
		for _, ex := range p.Examples {
			if !ex.Split.Valid() {
				r.Dropped++
				continue
			}
			xs[ex.Split] = append(xs[ex.Split], ex.Label[0])
			ys[ex.Split] = append(ys[ex.Split], ex.Label[1])
			if !seen[ex.Split] {
				seen[ex.Split] = true
				people[ex.Split]++
			}
		}
	}

	for _, s := range model.Splits {
		st := SplitStats{Split: s, Participants: people[s], Examples: len(xs[s])}
		st.LabelMeanX, st.LabelStdX = meanStd(xs[s])
		st.LabelMeanY, st.LabelStdY = meanStd(ys[s])
		r.Splits = append(r.Splits, st)
		r.Examples += st.Examples
	}
	return r
}

// meanStd returns zeros where gonum would return NaN so the report stays
// valid JSON.
func meanStd(v []float64) (mean, std float64) {
	switch len(v) {
	case 0:
		return 0, 0
	case 1:
		return v[0], 0
	}
	return stat.MeanStdDev(v, nil)
}

var splitColors = map[model.Split]color.RGBA{
	model.SplitTrain: {R: 31, G: 119, B: 180, A: 255},
	model.SplitValid: {R: 255, G: 127, B: 14, A: 255},
	model.SplitTest:  {R: 44, G: 160, B: 44, A: 255},
}

// Plot saves a scatter of every label, one series per split, to path. The
// image format follows the file extension.
func Plot(ds *model.Dataset, path string) error {
	p := plot.New()
	p.Title.Text = "Gaze labels"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Y.Scale = invertScale{}
	p.Legend.Top = true

	pts := map[model.Split]plotter.XYs{}
	for _, part := range ds.Participants {
		for _, ex := range part.Examples {
			if ex.Split.Valid() {
				pts[ex.Split] = append(pts[ex.Split], plotter.XY{X: ex.Label[0], Y: ex.Label[1]})
			}
		}
	}
	for _, s := range model.Splits {
		if len(pts[s]) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts[s])
		if err != nil {
			return fmt.Errorf("scatter %s: %w", s, err)
		}
		sc.GlyphStyle.Color = splitColors[s]
		sc.GlyphStyle.Radius = vg.Points(2)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(string(s), sc)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// invertScale puts y=0 at the top, as on screen.
type invertScale struct{}

func (invertScale) Normalize(lo, hi, x float64) float64 {
	return plot.LinearScale{}.Normalize(hi, lo, x)
}
