// Package window selects the trailing run of frames in which gaze is assumed
// to rest on the target.
package window

// Defaults: keep frames [n-10, n-5], i.e. six frames, skipping the last five
// transition frames.
const (
	DefaultTrailing = 10
	DefaultMargin   = 5
)

// Option applies a configuration option to the Window.
type Option func(*Window)

// WithTrailing sets how many frames from the end the window starts.
func WithTrailing(n int) Option {
	return func(w *Window) {
		if n > 0 {
			w.trailing = n
		}
	}
}

// WithMargin sets how many frames from the end the window stops.
func WithMargin(n int) Option {
	return func(w *Window) {
		if n >= 0 {
			w.margin = n
		}
	}
}

// Window computes retained frame ranges.
type Window struct {
	trailing int
	margin   int
}

// New creates a window with the default bounds.
func New(opts ...Option) *Window {
	w := &Window{trailing: DefaultTrailing, margin: DefaultMargin}
	for _, opt := range opts {
		opt(w)
	}
	if w.margin > w.trailing {
		w.margin = w.trailing
	}
	return w
}

// Bounds returns the inclusive window [total-trailing, total-margin].
// Either bound may be negative for short clips.
func (w *Window) Bounds(total int) (lo, hi int) {
	return total - w.trailing, total - w.margin
}

// Contains reports whether frame i of a clip with total frames is retained.
func (w *Window) Contains(total, i int) bool {
	lo, hi := w.Bounds(total)
	return i >= lo && i <= hi
}

// Step is what happens to one decoded frame.
type Step struct {
	From int
	// To is the new contiguous index; -1 means the frame is deleted.
	To int
}

// Keep reports whether the step retains its frame.
func (s Step) Keep() bool { return s.To >= 0 }

// Plan returns one step per frame index 0..total-1, in ascending order.
// Retained frames are renumbered from 0 preserving order. Because To <= From
// for every kept frame, applying the steps in order never overwrites a frame
// that has not been visited yet.
func (w *Window) Plan(total int) []Step {
	steps := make([]Step, 0, max(total, 0))
	next := 0
	for i := range total {
		if w.Contains(total, i) {
			steps = append(steps, Step{From: i, To: next})
			next++
			continue
		}
		steps = append(steps, Step{From: i, To: -1})
	}
	return steps
}

// Retained returns how many frames Plan keeps for total.
func (w *Window) Retained(total int) int {
	lo, hi := w.Bounds(total)
	lo = max(lo, 0)
	hi = min(hi, total-1)
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}
