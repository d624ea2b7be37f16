package logging

import "errors"

var (
	ErrCreateLogFile  = errors.New("logging: create log file")
	ErrWriteEvent     = errors.New("logging: write event")
	ErrMarshalData    = errors.New("logging: marshal event data")
	ErrCloseWriter    = errors.New("logging: close writer")
	ErrWriterClosed   = errors.New("logging: writer closed")
	ErrReadEvents     = errors.New("logging: read events")
	ErrMalformedEvent = errors.New("logging: malformed event")
	ErrOpenEventsDB   = errors.New("logging: open events database")
	ErrParseLevel     = errors.New("logging: parse log level")
)
