// Package detour is the control flow every hook runs through.
//
// A hook's logic returns an Outcome: Success carries the value handed back to
// the host process, Bypassed tells the hook to call the original native
// function with the same arguments, Failed carries an error that is handed
// back as an errno. The first Bypassed or Failed step of a chain stops it:
//
//	entry, ok := lookup(fd).Get()
//	if !ok {
//	    return detour.Residual[int](lookup(fd))
//	}
//
// or, without the early return, with AndThen and Map.
package detour

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is the active variant of an Outcome.
type Kind uint8

const (
	KindSuccess Kind = iota
	KindBypass
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindBypass:
		return "bypass"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Outcome is the result of a hook's logic. Exactly one of value, bypass or
// err is meaningful, selected by kind. The zero value is Success of the zero S.
type Outcome[S any] struct {
	kind   Kind
	value  S
	bypass Bypass
	err    error
}

// Success wraps a value computed by the hook.
func Success[S any](value S) Outcome[S] {
	return Outcome[S]{kind: KindSuccess, value: value}
}

// Bypassed tells the hook to fall back to the original function.
func Bypassed[S any](reason Bypass) Outcome[S] {
	return Outcome[S]{kind: KindBypass, bypass: reason}
}

// Failed carries a hard error. A nil err is replaced by ErrRemoteRequest so
// the outcome can never look like a success with no value.
func Failed[S any](err error) Outcome[S] {
	if err == nil {
		err = ErrRemoteRequest
	}
	return Outcome[S]{kind: KindError, err: err}
}

func (o Outcome[S]) Kind() Kind      { return o.kind }
func (o Outcome[S]) IsSuccess() bool { return o.kind == KindSuccess }
func (o Outcome[S]) IsBypass() bool  { return o.kind == KindBypass }
func (o Outcome[S]) IsError() bool   { return o.kind == KindError }

// Get returns the success value and true, or the zero S and false.
func (o Outcome[S]) Get() (S, bool) {
	if o.kind != KindSuccess {
		var zero S
		return zero, false
	}
	return o.value, true
}

// Bypass returns the bypass reason, if that is the active variant.
func (o Outcome[S]) Bypass() (Bypass, bool) {
	return o.bypass, o.kind == KindBypass
}

// Err returns the hard error, or nil for the other variants.
func (o Outcome[S]) Err() error {
	if o.kind != KindError {
		return nil
	}
	return o.err
}

func (o Outcome[S]) String() string {
	switch o.kind {
	case KindSuccess:
		return fmt.Sprintf("success(%v)", o.value)
	case KindBypass:
		return "bypass(" + o.bypass.String() + ")"
	default:
		return "error(" + o.err.Error() + ")"
	}
}

// Residual re-types a Bypassed or Failed outcome so it can be returned from
// a handler with a different success type. It panics on Success: that is a
// missed early return in the caller.
func Residual[U, S any](o Outcome[S]) Outcome[U] {
	switch o.kind {
	case KindBypass:
		return Bypassed[U](o.bypass)
	case KindError:
		return Failed[U](o.err)
	default:
		panic("detour: Residual called on a success outcome")
	}
}

// AndThen calls op with the success value. Bypassed and Failed pass through
// and op is not called.
func AndThen[S, U any](o Outcome[S], op func(S) Outcome[U]) Outcome[U] {
	if o.kind != KindSuccess {
		return Residual[U](o)
	}
	return op(o.value)
}

// Map transforms the success value.
func Map[S, U any](o Outcome[S], op func(S) U) Outcome[U] {
	if o.kind != KindSuccess {
		return Residual[U](o)
	}
	return Success(op(o.value))
}

// OrElse gives a Failed outcome a second chance. Other variants are returned as-is.
func (o Outcome[S]) OrElse(op func(error) Outcome[S]) Outcome[S] {
	if o.kind != KindError {
		return o
	}
	return op(o.err)
}

// OrBypass gives a Bypassed outcome a second chance. Other variants are returned as-is.
func (o Outcome[S]) OrBypass(op func(Bypass) Outcome[S]) Outcome[S] {
	if o.kind != KindBypass {
		return o
	}
	return op(o.bypass)
}

// UnwrapOr returns the success value or def. Meant for hooks whose failure
// should not stop the host process.
func (o Outcome[S]) UnwrapOr(def S) S {
	if o.kind != KindSuccess {
		return def
	}
	return o.value
}

// UnwrapOrBypassWith is the hook boundary:
//   - Success returns the value and no errno;
//   - Bypassed returns whatever op returns, usually the original call;
//   - Failed returns onError (typically -1) with the error's errno.
func (o Outcome[S]) UnwrapOrBypassWith(op func(Bypass) (S, unix.Errno), onError S) (S, unix.Errno) {
	switch o.kind {
	case KindSuccess:
		return o.value, 0
	case KindBypass:
		return op(o.bypass)
	default:
		return onError, Errno(o.err)
	}
}

// UnwrapOrBypass is UnwrapOrBypassWith with a fixed value for Bypassed.
func (o Outcome[S]) UnwrapOrBypass(value, onError S) (S, unix.Errno) {
	return o.UnwrapOrBypassWith(func(Bypass) (S, unix.Errno) { return value, 0 }, onError)
}

// FromResult converts a Go (value, error) pair: nil error is Success, a
// Bypass error is Bypassed, anything else is Failed.
func FromResult[S any](value S, err error) Outcome[S] {
	if err == nil {
		return Success(value)
	}
	var reason Bypass
	if errors.As(err, &reason) {
		return Bypassed[S](reason)
	}
	return Failed[S](err)
}

// FromOption converts a (value, ok) pair, bypassing with EmptyOption when !ok.
func FromOption[S any](value S, ok bool) Outcome[S] {
	return FromOptionOr(value, ok, EmptyOption)
}

// FromOptionOr converts a (value, ok) pair, bypassing with reason when !ok.
func FromOptionOr[S any](value S, ok bool, reason Bypass) Outcome[S] {
	if !ok {
		return Bypassed[S](reason)
	}
	return Success(value)
}

// TransposeOption turns an optional outcome into an outcome of an optional:
// nil is Success(nil), otherwise the outcome's variant is kept.
func TransposeOption[S any](o *Outcome[S]) Outcome[*S] {
	if o == nil {
		return Success[*S](nil)
	}
	return Map(*o, func(v S) *S { return &v })
}
