package service

import "errors"

// Sentinel error kinds for this package.
var (
	// ErrParticipant wraps any failure that aborts one participant.
	ErrParticipant  = errors.New("participant aborted")
	ErrUnknownStage = errors.New("unknown stage")
	ErrMissingInput = errors.New("missing stage input")
	ErrNoDetector   = errors.New("no landmark detector configured")
)
