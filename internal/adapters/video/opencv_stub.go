//go:build !opencv

package video

// NewOpenCVDecoder reports that OpenCV support was not compiled in. Build
// with -tags opencv to enable it.
func NewOpenCVDecoder() (Decoder, error) {
	return nil, ErrOpenCVUnavailable
}
