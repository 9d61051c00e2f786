package ledger

import "errors"

// ErrLedger wraps every database failure of this package.
var ErrLedger = errors.New("run ledger")
