package results

import "errors"

// Sentinel error kinds for this package.
var (
	ErrMetadata  = errors.New("invalid study metadata")
	ErrEventLog  = errors.New("invalid event log")
	ErrNoResults = errors.New("study has no results")
	// ErrParticipantID marks an id that cannot safely name a file or
	// directory.
	ErrParticipantID = errors.New("unsafe participant id")
)
