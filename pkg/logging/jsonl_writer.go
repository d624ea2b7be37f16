package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jingkaihe/layerhook/internal/errx"
)

// JSONLWriter appends hook events to an events file, one JSON object per
// line. Hooks emit from whatever host thread made the call, so every event
// is encoded first and lands in the file with a single write.
type JSONLWriter struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewJSONLWriter opens path for appending, creating it and its parent
// directories if needed.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return &JSONLWriter{path: path, file: f}, nil
}

func (w *JSONLWriter) Path() string { return w.path }

func (w *JSONLWriter) Write(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrWriterClosed
	}
	if _, err := w.file.Write(line); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close syncs and closes the file. Later writes fail with ErrWriterClosed.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	_ = f.Sync()
	if err := f.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}

// ReadJSONL returns the events recorded in path, in write order.
func ReadJSONL(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errx.Wrap(ErrReadEvents, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, errx.Wrap(ErrReadEvents, errx.With(ErrMalformedEvent, ": line %d: %v", line, err))
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, errx.Wrap(ErrReadEvents, err)
	}
	return events, nil
}
