package landmark

import "errors"

// Sentinel error kinds for this package.
var (
	ErrDetector = errors.New("landmark detector failed")
	// ErrClosed is returned once the sidecar has exited or a request was
	// abandoned mid-response.
	ErrClosed = errors.New("landmark detector closed")
)
