package rescale

import "errors"

// Sentinel kinds for label rescaling.
var (
	ErrInvalidViewport = errors.New("invalid viewport")
	ErrAlreadyRescaled = errors.New("labels already rescaled")
)
