package api

import "errors"

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidPattern = errors.New("invalid path pattern")
)
