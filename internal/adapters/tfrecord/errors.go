package tfrecord

import "errors"

// Sentinel error kinds for this package.
var (
	ErrCorrupt = errors.New("corrupt tfrecord")
	ErrClosed  = errors.New("tfrecord writer closed")
)
