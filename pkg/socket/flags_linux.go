package socket

import "golang.org/x/sys/unix"

// typeFlags are the modifier bits socket(2) accepts in its type argument.
const typeFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC
