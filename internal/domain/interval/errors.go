package interval

import "errors"

// Sentinel kinds for interval extraction errors.
var (
	// ErrUnresolvedAnchor means an interval referenced a resume, pause or
	// canvas anchor that the log never established. Fatal for the session.
	ErrUnresolvedAnchor = errors.New("unresolved anchor event")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrInvalidInterval  = errors.New("invalid dot interval")
)
