package eyecrop

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/okian/gazeset/internal/domain/model"
)

// Detector locates face landmarks in a frame. It returns ErrNoFace when no
// face is found.
type Detector interface {
	Detect(ctx context.Context, frame model.Frame, img image.Image) (model.LandmarkSet, error)
}

// Crop is one eye's output.
type Crop struct {
	Image image.Image
	// Box is the crop rectangle in frame coordinates.
	Box       image.Rectangle
	Landmarks model.EyeLandmarks
	SpanX     int
	SpanY     int
}

// Result holds both eye crops of a frame.
type Result struct {
	Right Crop
	Left  Crop
}

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithSize sets the crop side length.
func WithSize(size int) Option {
	return func(n *Normalizer) {
		if size > 0 {
			n.size = size
		}
	}
}

// Normalizer turns a frame and its landmarks into two eye crops.
type Normalizer struct {
	size  int
	right EyeIndices
	left  EyeIndices
}

// NewNormalizer creates a normalizer producing DefaultSize crops.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{size: DefaultSize, right: RightEye, left: LeftEye}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Size returns the crop side length.
func (n *Normalizer) Size() int { return n.size }

// Process runs detection on img and normalizes the result.
func (n *Normalizer) Process(ctx context.Context, d Detector, frame model.Frame, img image.Image) (Result, error) {
	set, err := d.Detect(ctx, frame, img)
	if err != nil {
		return Result{}, err
	}
	if len(set) == 0 {
		return Result{}, ErrNoFace
	}
	return n.Normalize(img, set)
}

// Normalize crops both eyes out of img. A crop that does not come out at
// exactly size x size (the box leaves the frame) fails with ErrCropSize; it is
// never resized.
func (n *Normalizer) Normalize(img image.Image, set model.LandmarkSet) (Result, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	right, err := EyeFromLandmarks(set, n.right, w, h)
	if err != nil {
		return Result{}, fmt.Errorf("right eye: %w", err)
	}
	left, err := EyeFromLandmarks(set, n.left, w, h)
	if err != nil {
		return Result{}, fmt.Errorf("left eye: %w", err)
	}

	rc, err := n.cropEye(img, right)
	if err != nil {
		return Result{}, fmt.Errorf("right eye: %w", err)
	}
	lc, err := n.cropEye(img, left)
	if err != nil {
		return Result{}, fmt.Errorf("left eye: %w", err)
	}
	return Result{Right: rc, Left: lc}, nil
}

func (n *Normalizer) cropEye(img image.Image, e Eye) (Crop, error) {
	box := Box(e, n.size)
	sx, sy := e.Span()

	bounds := img.Bounds()
	r := box.Add(bounds.Min).Intersect(bounds)
	if r.Dx() != n.size || r.Dy() != n.size {
		return Crop{}, fmt.Errorf("box %v gives %dx%d crop, want %dx%d: %w",
			box, r.Dx(), r.Dy(), n.size, n.size, ErrCropSize)
	}

	return Crop{
		Image:     subImage(img, r),
		Box:       box,
		Landmarks: Rebase(e, box),
		SpanX:     sx,
		SpanY:     sy,
	}, nil
}

// subImage returns the r region of img with its origin moved to (0,0).
func subImage(img image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
