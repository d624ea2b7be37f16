// Package errx attaches a package sentinel to an underlying cause so callers
// can match either one with errors.Is.
package errx

import (
	"errors"
	"fmt"
)

type wrapped struct {
	sentinel error
	cause    error
	detail   string
}

func (e *wrapped) Error() string {
	switch {
	case e.cause != nil:
		return e.sentinel.Error() + ": " + e.cause.Error()
	case e.detail != "":
		return e.sentinel.Error() + e.detail
	default:
		return e.sentinel.Error()
	}
}

func (e *wrapped) Unwrap() []error {
	if e.cause == nil {
		return []error{e.sentinel}
	}
	return []error{e.sentinel, e.cause}
}

// Wrap returns an error matching both sentinel and cause.
// A nil cause yields the sentinel itself.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &wrapped{sentinel: sentinel, cause: cause}
}

// With appends a formatted detail to the sentinel message. The format is
// used as is, so callers usually start it with ": ".
func With(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, detail: fmt.Sprintf(format, args...)}
}

// Is reports whether err matches any of targets.
func Is(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
