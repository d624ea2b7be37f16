package logging

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/layerhook/internal/errx"
)

// Sink receives every emitted event. Implementations must be safe for
// concurrent use since hooks fire from any host thread.
type Sink interface {
	Write(event *Event) error
	Close() error
}

// EmitterConfig holds the metadata stamped onto every event.
type EmitterConfig struct {
	RunID   string // Defaults to a random UUID
	Process string // Name of the intercepted process
}

// Emitter fans typed events out to its sinks.
//
// A nil *Emitter is safe to use: Emit and Close do nothing.
type Emitter struct {
	config EmitterConfig
	sinks  []Sink

	closeOnce sync.Once
	closeErr  error
}

func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// RunID returns the id stamped on events.
func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	return e.config.RunID
}

// Emit builds an event and writes it to every sink. data is marshaled to
// JSON; pass nil for no payload. Returns the first error encountered.
// Hooks ignore the error: losing an event must never change a call's result.
func (e *Emitter) Emit(eventType, summary, symbol string, tags []string, data any) error {
	if e == nil {
		return nil
	}
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     e.config.RunID,
		Process:   e.config.Process,
		EventType: eventType,
		Summary:   summary,
		Symbol:    symbol,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks once. Returns the first error encountered.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		for _, sink := range e.sinks {
			if err := sink.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
	})
	return e.closeErr
}
