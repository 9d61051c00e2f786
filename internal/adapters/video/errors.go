package video

import "errors"

// Sentinel error kinds for this package.
var (
	// ErrNoChunks means a participant has no video chunk at index 0.
	ErrNoChunks = errors.New("no video chunks")
	ErrFFmpeg   = errors.New("ffmpeg failed")
	ErrProbe    = errors.New("ffprobe failed")
	// ErrOpenCVUnavailable is returned when the binary was built without
	// the opencv tag.
	ErrOpenCVUnavailable = errors.New("opencv decoder not compiled in")
)
