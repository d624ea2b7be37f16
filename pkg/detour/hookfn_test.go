package detour

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookFn_SetOnce(t *testing.T) {
	var slot HookFn[int]
	_, ok := slot.Get()
	assert.False(t, ok)
	assert.Panics(t, func() { slot.MustGet() })

	assert.True(t, slot.Set(1))
	assert.False(t, slot.Set(2))
	assert.Equal(t, 1, slot.MustGet())
}

func TestHookFn_GetOrInitDoesNotReinitialize(t *testing.T) {
	var slot HookFn[string]
	calls := 0
	init := func() Outcome[string] {
		calls++
		return Success("libc_open")
	}

	first, ok := slot.GetOrInit(init).Get()
	require.True(t, ok)
	second, ok := slot.GetOrInit(init).Get()
	require.True(t, ok)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestHookFn_GetOrInitRetriesAfterFailure(t *testing.T) {
	var slot HookFn[int]

	out := slot.GetOrInit(func() Outcome[int] { return Failed[int](ErrOriginalNotFound) })
	assert.ErrorIs(t, out.Err(), ErrOriginalNotFound)
	_, ok := slot.Get()
	assert.False(t, ok)

	out = slot.GetOrInit(func() Outcome[int] { return Bypassed[int](NotImplemented) })
	assert.True(t, out.IsBypass())
	_, ok = slot.Get()
	assert.False(t, ok)

	out = slot.GetOrInit(func() Outcome[int] { return Success(42) })
	v, ok := out.Get()
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 42, slot.MustGet())
}

func TestHookFn_ConcurrentInitStoresOneValue(t *testing.T) {
	const workers = 64

	type original struct{ id int64 }
	var slot HookFn[*original]
	var inits atomic.Int64

	var start, wg sync.WaitGroup
	start.Add(1)
	results := make([]*original, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			out := slot.GetOrInit(func() Outcome[*original] {
				return Success(&original{id: inits.Add(1)})
			})
			v, ok := out.Get()
			if ok {
				results[i] = v
			}
		}(i)
	}
	start.Done()
	wg.Wait()

	stored := slot.MustGet()
	for i, r := range results {
		require.NotNil(t, r, "worker %d", i)
		assert.Same(t, stored, r, "worker %d saw a different value", i)
	}
	assert.GreaterOrEqual(t, inits.Load(), int64(1))
}

type openFn func(path string) int

func TestHook_OriginalFromSymbols(t *testing.T) {
	h := NewHook[openFn]("open")
	symbols := SymbolTable{"open": openFn(func(string) int { return 3 })}

	fn, ok := h.Original(symbols).Get()
	require.True(t, ok)
	assert.Equal(t, 3, fn("/x"))

	// Cached: symbols are no longer consulted.
	fn, ok = h.Original(nil).Get()
	require.True(t, ok)
	assert.Equal(t, 3, fn("/x"))
}

func TestHook_OriginalMissingOrWrongType(t *testing.T) {
	missing := NewHook[openFn]("open")
	assert.ErrorIs(t, missing.Original(SymbolTable{}).Err(), ErrOriginalNotFound)
	assert.ErrorIs(t, missing.Original(nil).Err(), ErrOriginalNotFound)

	wrong := NewHook[openFn]("open")
	out := wrong.Original(SymbolTable{"open": func(int) int { return 0 }})
	assert.ErrorIs(t, out.Err(), ErrOriginalType)

	// A failed resolution is retried on the next call.
	fn, ok := wrong.Original(SymbolTable{"open": openFn(func(string) int { return 9 })}).Get()
	require.True(t, ok)
	assert.Equal(t, 9, fn(""))
}

func TestHook_Install(t *testing.T) {
	h := NewHook[openFn]("open")
	assert.True(t, h.Install(func(string) int { return 1 }))
	assert.False(t, h.Install(func(string) int { return 2 }))

	fn, ok := h.Original(nil).Get()
	require.True(t, ok)
	assert.Equal(t, 1, fn(""))
}
