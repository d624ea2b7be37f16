package detour

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

// Hook errors. Handlers wrap causes with errx.Wrap so that Errno can still
// find an underlying unix.Errno.
var (
	ErrNullPointer        = errors.New("null pointer argument")
	ErrBadDescriptor      = errors.New("bad file descriptor")
	ErrRemoteNotFound     = errors.New("remote resource not found")
	ErrRemoteRequest      = errors.New("remote request failed")
	ErrRemoteTimeout      = errors.New("remote request timed out")
	ErrLocalFdReserve     = errors.New("reserve local descriptor")
	ErrUnsupportedAddress = errors.New("unsupported socket address")
	ErrAddressInUse       = errors.New("address already in use")
	ErrConnectionRefused  = errors.New("connection refused")
	ErrOriginalNotFound   = errors.New("original function not found")
	ErrOriginalType       = errors.New("original function has unexpected type")
)

var sentinelErrnos = []struct {
	err   error
	errno unix.Errno
}{
	{ErrNullPointer, unix.EFAULT},
	{ErrBadDescriptor, unix.EBADF},
	{ErrRemoteNotFound, unix.ENOENT},
	{ErrRemoteTimeout, unix.ETIMEDOUT},
	{context.DeadlineExceeded, unix.ETIMEDOUT},
	{context.Canceled, unix.EINTR},
	{ErrLocalFdReserve, unix.EMFILE},
	{ErrUnsupportedAddress, unix.EAFNOSUPPORT},
	{ErrAddressInUse, unix.EADDRINUSE},
	{ErrConnectionRefused, unix.ECONNREFUSED},
	{ErrOriginalNotFound, unix.ENOSYS},
	{ErrOriginalType, unix.ENOSYS},
}

// Errno returns the native error code the host process sees for err.
// An errno anywhere in the chain wins, so native call failures come back
// verbatim; known sentinels map to a fixed code; everything else is EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno
	}
	for _, m := range sentinelErrnos {
		if errors.Is(err, m.err) {
			return m.errno
		}
	}
	return unix.EIO
}
