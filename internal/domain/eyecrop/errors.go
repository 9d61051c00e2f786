package eyecrop

import "errors"

// Sentinel kinds for normalization. ErrNoFace and ErrCropSize skip the frame
// without failing the participant.
var (
	ErrNoFace        = errors.New("no face detected")
	ErrCropSize      = errors.New("eye crop has wrong size")
	ErrLandmarkIndex = errors.New("landmark index out of range")
)
