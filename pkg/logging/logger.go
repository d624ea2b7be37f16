package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
)

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLogPath returns a fresh log file path in the temp dir of the form
// <prefix>-<unix seconds>-<7 random alphanumerics>.log.
func DefaultLogPath(prefix string) string {
	var suffix [7]byte
	for i := range suffix {
		suffix[i] = alnum[rand.IntN(len(alnum))]
	}
	name := fmt.Sprintf("%s-%d-%s.log", prefix, time.Now().Unix(), suffix[:])
	return filepath.Join(os.TempDir(), name)
}

// ParseLevel accepts slog level names in any case ("debug", "WARN", "info+2").
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, errx.Wrap(ErrParseLevel, err)
	}
	return level, nil
}

// NewLogger builds the process logger from cfg. Logs never go to the host
// process's stdout or stderr: they are appended to cfg.Destination, or to a
// DefaultLogPath file. The returned closer closes that file.
func NewLogger(cfg api.LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	dest := cfg.Destination
	if dest == "" {
		dest = DefaultLogPath("layerhook")
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return slog.New(NewHandler(f, level, cfg.JSON)), f, nil
}

// NewHandler returns a JSON or text handler writing to w.
func NewHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SinksFromConfig opens the event sinks cfg asks for.
func SinksFromConfig(cfg api.LogConfig) ([]Sink, error) {
	var sinks []Sink
	if cfg.EventsPath != "" {
		w, err := NewJSONLWriter(cfg.EventsPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if cfg.EventsDB != "" {
		s, err := NewSQLiteSink(cfg.EventsDB)
		if err != nil {
			for _, sink := range sinks {
				_ = sink.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// NewEmitterFromConfig wires the sinks cfg asks for. With no sink configured
// it returns a nil emitter, which is safe to use.
func NewEmitterFromConfig(cfg api.LogConfig, process string) (*Emitter, error) {
	sinks, err := SinksFromConfig(cfg)
	if err != nil || len(sinks) == 0 {
		return nil, err
	}
	return NewEmitter(EmitterConfig{Process: process}, sinks...), nil
}
