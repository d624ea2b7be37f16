package remote

import "errors"

var (
	ErrNotConnected = errors.New("remote: peer not reachable")
	ErrUnknownHost  = errors.New("remote: unknown host")
)
