package incidents

import "errors"

// ErrNotFound indicates a missing incident record.
var ErrNotFound = errors.New("incident: not found")
