package world

import "errors"

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrInvalidConfig = errors.New("invalid world configuration")
)
