package detour

import (
	"runtime"
	"sync"
)

// active holds one entry per OS thread that is currently running hook logic.
// Entries are only ever added by Acquire and removed by Guard.Release on the
// same thread, so no two threads touch the same key.
var active sync.Map

// Guard marks the calling thread as running hook logic. While it is held,
// every hook entered on this thread skips its logic and calls the original
// function, so the layer's own file and socket calls are never intercepted.
type Guard struct {
	tid      int
	released bool
}

// Acquire marks the current thread as busy. It returns false when the thread
// already holds a guard: the caller is inside hook logic and must call the
// original function directly.
//
// The goroutine is locked to its OS thread until Release, so the flag
// follows the goroutine for the whole guarded scope. Always pair with
//
//	g, ok := detour.Acquire()
//	if !ok { return original() }
//	defer g.Release()
func Acquire() (*Guard, bool) {
	runtime.LockOSThread()
	tid := threadID()
	if _, busy := active.LoadOrStore(tid, struct{}{}); busy {
		runtime.UnlockOSThread()
		return nil, false
	}
	return &Guard{tid: tid}, true
}

// Release clears the thread's flag. It is safe to call on a nil guard and
// more than once; only the first call has an effect.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	active.Delete(g.tid)
	runtime.UnlockOSThread()
}

// Active reports whether the calling thread currently holds a guard.
func Active() bool {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	_, busy := active.Load(threadID())
	return busy
}

// Guarded runs fn with the guard held and reports whether it ran. fn does
// not run if the thread is already guarded. The guard is released even if
// fn panics.
func Guarded(fn func()) bool {
	g, ok := Acquire()
	if !ok {
		return false
	}
	defer g.Release()
	fn()
	return true
}
