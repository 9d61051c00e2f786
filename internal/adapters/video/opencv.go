//go:build opencv

package video

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// OpenCVDecoder decodes clips in-process with OpenCV.
type OpenCVDecoder struct{}

// NewOpenCVDecoder returns the OpenCV decoder.
func NewOpenCVDecoder() (Decoder, error) {
	return OpenCVDecoder{}, nil
}

// Decode implements Decoder.
func (OpenCVDecoder) Decode(ctx context.Context, clip, dir, prefix string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	vc, err := gocv.VideoCaptureFile(clip)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", clip, err)
	}
	defer func() { _ = vc.Close() }()

	img := gocv.NewMat()
	defer func() { _ = img.Close() }()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if ok := vc.Read(&img); !ok || img.Empty() {
			return n, nil
		}
		p := filepath.Join(dir, FrameName(prefix, n))
		if ok := gocv.IMWrite(p, img); !ok {
			return n, fmt.Errorf("write %s", p)
		}
		n++
	}
}
