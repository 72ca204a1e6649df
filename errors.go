package hedge

import "errors"

// ErrInvalidMaxAttempts is returned by LoadExecutionAsync when called on a HedgingExecutionContext configured
// with MaxAttempts == 0, which spec §4.2 calls a programmer error.
var ErrInvalidMaxAttempts = errors.New("hedge: MaxAttempts must be > 0")
