// Package eyecrop derives fixed-size eye crops from face landmarks and
// re-expresses the eye-corner landmarks in crop-local coordinates.
package eyecrop

import (
	"fmt"
	"image"
	"math"

	"github.com/okian/gazeset/internal/domain/model"
)

// DefaultSize is the side of every eye crop in pixels.
const DefaultSize = 128

// EyeIndices are the face mesh indices consumed per eye. Low and High refer
// to image x, so Low is the corner nearer the left edge of the frame.
type EyeIndices struct {
	Low, High    int
	Upper, Lower int
	// InnerIsLow reports whether the Low corner is the inner (nasal) corner.
	InnerIsLow bool
}

// Landmark indices of the 468-point face mesh.
var (
	RightEye = EyeIndices{Low: 33, High: 133, Upper: 159, Lower: 145, InnerIsLow: false}
	LeftEye  = EyeIndices{Low: 362, High: 263, Upper: 386, Lower: 374, InnerIsLow: true}
)

// Eye holds one eye's landmarks in frame pixels.
type Eye struct {
	Low, High    model.Point
	Upper, Lower model.Point
	innerIsLow   bool
}

// Span returns the corner-to-corner and lid-to-lid distances.
func (e Eye) Span() (horizontal, vertical int) {
	return e.High.X - e.Low.X, e.Lower.Y - e.Upper.Y
}

// Corners returns the inner and outer corner.
func (e Eye) Corners() (inner, outer model.Point) {
	if e.innerIsLow {
		return e.Low, e.High
	}
	return e.High, e.Low
}

// SplitPad splits the padding that inflates span up to size into a floor and
// a ceil half. floor+ceil always equals size-span, also for odd differences
// and spans larger than size.
func SplitPad(span, size int) (lo, hi int) {
	pad := float64(size-span) / 2
	return int(math.Floor(pad)), int(math.Ceil(pad))
}

// Box returns the crop rectangle for e in frame coordinates.
//
// Columns extend the low corner by ceil(pad) and the high corner by
// floor(pad); rows extend the upper lid by floor(pad) and the lower lid by
// ceil(pad). The rectangle is always size x size.
func Box(e Eye, size int) image.Rectangle {
	h, v := e.Span()
	hFloor, hCeil := SplitPad(h, size)
	vFloor, vCeil := SplitPad(v, size)
	return image.Rect(
		e.Low.X-hCeil,
		e.Upper.Y-vFloor,
		e.High.X+hFloor,
		e.Lower.Y+vCeil,
	)
}

// Rebase returns the inner and outer corner relative to the box origin.
func Rebase(e Eye, box image.Rectangle) model.EyeLandmarks {
	inner, outer := e.Corners()
	return model.EyeLandmarks{inner.Sub(box.Min), outer.Sub(box.Min)}
}

// EyeFromLandmarks picks one eye's points out of a landmark set and converts
// them to pixels of a width x height frame.
func EyeFromLandmarks(set model.LandmarkSet, idx EyeIndices, width, height int) (Eye, error) {
	pick := func(i int) (model.Point, error) {
		if i < 0 || i >= len(set) {
			return model.Point{}, fmt.Errorf("landmark %d of %d: %w", i, len(set), ErrLandmarkIndex)
		}
		return set[i].Pixel(width, height), nil
	}

	var (
		e   = Eye{innerIsLow: idx.InnerIsLow}
		err error
	)
	if e.Low, err = pick(idx.Low); err != nil {
		return Eye{}, err
	}
	if e.High, err = pick(idx.High); err != nil {
		return Eye{}, err
	}
	if e.Upper, err = pick(idx.Upper); err != nil {
		return Eye{}, err
	}
	if e.Lower, err = pick(idx.Lower); err != nil {
		return Eye{}, err
	}
	return e, nil
}

// NewEye builds an Eye from explicit pixel landmarks.
func NewEye(low, high, upper, lower model.Point, innerIsLow bool) Eye {
	return Eye{Low: low, High: high, Upper: upper, Lower: lower, innerIsLow: innerIsLow}
}
