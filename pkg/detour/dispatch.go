package detour

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/logging"
)

// Dispatcher owns what every hook boundary needs: where originals come
// from and where decisions are reported.
type Dispatcher struct {
	symbols Symbols
	logger  *slog.Logger
	emitter *logging.Emitter
}

// NewDispatcher returns a dispatcher resolving originals through symbols.
// A nil logger uses slog.Default; a nil emitter emits nothing.
func NewDispatcher(symbols Symbols, logger *slog.Logger, emitter *logging.Emitter) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		symbols: symbols,
		logger:  logger.With("component", "detour"),
		emitter: emitter,
	}
}

// Logger returns the dispatcher's logger, for handlers that want the same scope.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Run is the body of every hook entry point.
//
// If the calling thread is already inside hook logic, call runs the
// original right away. Otherwise the guard is taken, logic decides, and:
// Success is returned as is, Bypassed runs the original with the same
// arguments through call, Failed returns onError with the error's errno.
// The guard is released on every path, panics included.
func Run[F, S any](d *Dispatcher, h *Hook[F], onError S, call func(F) (S, unix.Errno), logic func() Outcome[S]) (S, unix.Errno) {
	g, ok := Acquire()
	if !ok {
		return callOriginal(d, h, onError, call)
	}
	defer g.Release()

	out := logic()
	switch out.Kind() {
	case KindBypass:
		reason, _ := out.Bypass()
		d.bypassed(h.Symbol, reason)
	case KindError:
		d.failed(h.Symbol, out.Err())
	}
	return out.UnwrapOrBypassWith(func(Bypass) (S, unix.Errno) {
		return callOriginal(d, h, onError, call)
	}, onError)
}

// Original resolves h through the dispatcher's symbols.
func Original[F any](d *Dispatcher, h *Hook[F]) Outcome[F] {
	_, cached := h.fn.Get()
	out := h.Original(d.symbols)
	if !cached && out.IsSuccess() {
		d.logger.Debug("original resolved", "symbol", h.Symbol)
		_ = d.emitter.Emit(logging.EventOriginalResolved, h.Symbol+" resolved", h.Symbol, nil,
			&logging.OriginalResolvedData{Symbol: h.Symbol})
	}
	return out
}

// callOriginal runs the native implementation. If it cannot be resolved
// there is nothing to fall back to, so the call fails with ENOSYS.
func callOriginal[F, S any](d *Dispatcher, h *Hook[F], onError S, call func(F) (S, unix.Errno)) (S, unix.Errno) {
	fn, ok := Original(d, h).Get()
	if !ok {
		d.logger.Error("original unavailable", "symbol", h.Symbol)
		return onError, unix.ENOSYS
	}
	return call(fn)
}

func (d *Dispatcher) bypassed(symbol string, reason Bypass) {
	d.logger.Debug("hook bypassed", append([]any{"symbol", symbol}, reason.Attrs()...)...)
	_ = d.emitter.Emit(logging.EventHookBypass, symbol+" bypassed: "+reason.Kind.String(), symbol, nil,
		&logging.HookBypassData{Symbol: symbol, Reason: reason.Kind.String(), Detail: reason.String()})
}

func (d *Dispatcher) failed(symbol string, err error) {
	errno := Errno(err)
	d.logger.Warn("hook failed", "symbol", symbol, "error", err, "errno", errno.Error())
	_ = d.emitter.Emit(logging.EventHookError, symbol+" failed: "+err.Error(), symbol, nil,
		&logging.HookErrorData{Symbol: symbol, Error: err.Error(), Errno: int(errno)})
}
