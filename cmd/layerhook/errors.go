package main

import "errors"

// Explain errors
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidTarget    = errors.New("invalid target")
)

// Events errors
var ErrReadEvents = errors.New("read events")

// Config errors
var (
	ErrLoadConfig    = errors.New("load config")
	ErrEncodeConfig  = errors.New("encode config")
	ErrCreateLogger  = errors.New("create logger")
	ErrCreateEmitter = errors.New("create event emitter")
)
