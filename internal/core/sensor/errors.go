package sensor

import "errors"

var (
	ErrCapacityExceeded = errors.New("sensor map volume capacity exceeded")
	ErrStaleVolume      = errors.New("volume id is stale or invalid")
	ErrInvalidConfig    = errors.New("invalid sensor map configuration")
)
