package split

import "errors"

// Sentinel kinds for split assignment.
var (
	// ErrQuotaExhausted means more participants arrived than the quotas
	// allow. It is a configuration error and fatal for the run.
	ErrQuotaExhausted = errors.New("split quota list exhausted")
	ErrInvalidQuota   = errors.New("invalid split quota")
)
