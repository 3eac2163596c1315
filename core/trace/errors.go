package trace

import (
	"errors"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMissingData     = errors.New("missing data")
	ErrWindowTooLong   = errors.New("window length exceeds trace length")
)
