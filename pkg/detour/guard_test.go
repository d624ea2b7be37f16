package detour

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_SecondAcquireOnSameThreadFails(t *testing.T) {
	g, ok := Acquire()
	require.True(t, ok)
	require.NotNil(t, g)
	defer g.Release()

	second, ok := Acquire()
	assert.False(t, ok)
	assert.Nil(t, second)
	assert.True(t, Active())
}

func TestAcquire_AfterRelease(t *testing.T) {
	g, ok := Acquire()
	require.True(t, ok)
	g.Release()
	assert.False(t, Active())

	g, ok = Acquire()
	require.True(t, ok)
	g.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	g, ok := Acquire()
	require.True(t, ok)
	g.Release()
	g.Release()

	var nilGuard *Guard
	nilGuard.Release()

	g, ok = Acquire()
	require.True(t, ok)
	defer g.Release()
}

func TestGuard_ReleasedOnPanic(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	func() {
		defer func() { _ = recover() }()
		g, ok := Acquire()
		require.True(t, ok)
		defer g.Release()
		panic("handler blew up")
	}()

	assert.False(t, Active())
	g, ok := Acquire()
	require.True(t, ok)
	g.Release()
}

func TestGuarded(t *testing.T) {
	ran := Guarded(func() {
		assert.True(t, Active())
		nested := Guarded(func() { t.Fatal("nested scope must not run") })
		assert.False(t, nested)
	})
	assert.True(t, ran)
	assert.False(t, Active())
}

func TestAcquire_IndependentAcrossThreads(t *testing.T) {
	const workers = 16

	var ready, done sync.WaitGroup
	ready.Add(workers)
	done.Add(workers)
	release := make(chan struct{})
	acquired := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer done.Done()
			g, ok := Acquire()
			acquired <- ok
			ready.Done()
			<-release
			g.Release()
		}()
	}

	ready.Wait()
	close(release)
	done.Wait()
	close(acquired)

	for ok := range acquired {
		assert.True(t, ok, "every thread gets its own guard")
	}
}
