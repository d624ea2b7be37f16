//go:build !linux

package detour

import (
	"bytes"
	"runtime"
	"strconv"
)

// threadID falls back to the goroutine id where the kernel thread id is not
// exposed. Callers hold runtime.LockOSThread, so the goroutine and the
// thread stay paired for as long as the id is in use.
func threadID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, _ := strconv.Atoi(string(field))
	return id
}
