package errx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	errSentinel = errors.New("open remote file")
	errOther    = errors.New("other")
)

func TestWrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(errSentinel, cause)

	assert.True(t, errors.Is(err, errSentinel))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "open remote file: connection reset", err.Error())
}

func TestWrap_NilCause(t *testing.T) {
	assert.Same(t, errSentinel, Wrap(errSentinel, nil))
}

func TestWith(t *testing.T) {
	err := With(errSentinel, ": path must be absolute")

	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, "open remote file: path must be absolute", err.Error())

	err = With(errSentinel, " in %q", "etc/hosts")
	assert.ErrorIs(t, err, errSentinel)
	assert.Equal(t, `open remote file in "etc/hosts"`, err.Error())
}

func TestIs(t *testing.T) {
	err := Wrap(errSentinel, errOther)
	assert.True(t, Is(err, errors.New("x"), errOther))
	assert.False(t, Is(errors.New("x"), errSentinel))
}
