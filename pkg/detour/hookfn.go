package detour

import (
	"sync/atomic"

	"github.com/jingkaihe/layerhook/internal/errx"
)

// HookFn is a write-once slot holding the native function behind one
// hooked function. Reads after the first successful write take no lock.
// The zero value is empty and ready to use.
type HookFn[T any] struct {
	p atomic.Pointer[T]
}

// Get returns the stored value, if any.
func (h *HookFn[T]) Get() (T, bool) {
	if v := h.p.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// MustGet returns the stored value and panics if the slot was never set.
// Only hooks installed after their slot was populated may use it.
func (h *HookFn[T]) MustGet() T {
	v := h.p.Load()
	if v == nil {
		panic("detour: original function used before it was set")
	}
	return *v
}

// Set stores value if the slot is empty. It reports false, leaving the slot
// untouched, when a value was already stored.
func (h *HookFn[T]) Set(value T) bool {
	return h.p.CompareAndSwap(nil, &value)
}

// GetOrInit returns the stored value, initializing it with init on first
// use. When init does not succeed its outcome is returned and nothing is
// stored, so a later call tries again. Under a race several inits may run
// but only the first stored value is ever returned.
func (h *HookFn[T]) GetOrInit(init func() Outcome[T]) Outcome[T] {
	if v := h.p.Load(); v != nil {
		return Success(*v)
	}
	out := init()
	value, ok := out.Get()
	if !ok {
		return out
	}
	h.p.CompareAndSwap(nil, &value)
	return Success(*h.p.Load())
}

// Symbols resolves native implementations of hooked symbols. It is provided
// by whatever patched the process; the value for a symbol must be a func of
// the type the hook declares.
type Symbols interface {
	Original(symbol string) (any, bool)
}

// SymbolTable is a static Symbols backed by a map.
type SymbolTable map[string]any

func (t SymbolTable) Original(symbol string) (any, bool) {
	fn, ok := t[symbol]
	return fn, ok
}

// Hook names a hooked symbol and caches its native function of
// type F. Declare one Hook per hooked symbol and share it between calls.
type Hook[F any] struct {
	Symbol string
	fn     HookFn[F]
}

// NewHook returns an unresolved hook for symbol.
func NewHook[F any](symbol string) *Hook[F] {
	return &Hook[F]{Symbol: symbol}
}

// Install stores the original directly, for patchers that already hold it.
func (h *Hook[F]) Install(original F) bool {
	return h.fn.Set(original)
}

// Original returns the cached original, resolving it through symbols the
// first time.
func (h *Hook[F]) Original(symbols Symbols) Outcome[F] {
	return h.fn.GetOrInit(func() Outcome[F] {
		if symbols == nil {
			return Failed[F](errx.With(ErrOriginalNotFound, ": %s", h.Symbol))
		}
		raw, ok := symbols.Original(h.Symbol)
		if !ok {
			return Failed[F](errx.With(ErrOriginalNotFound, ": %s", h.Symbol))
		}
		fn, ok := raw.(F)
		if !ok {
			return Failed[F](errx.With(ErrOriginalType, ": %s", h.Symbol))
		}
		return Success(fn)
	})
}
