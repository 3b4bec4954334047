package alerts

import "errors"

// ErrNotFound indicates a missing, foreign, or already-resolved alert.
var ErrNotFound = errors.New("alert: not found")
