package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// maxLineLength bounds the pending buffer when a writer never emits a newline.
const maxLineLength = 4096

// LineWriter is an io.Writer that logs every complete line written to it.
//
// It is used to forward the informational stdout/stderr of child processes
// into the structured log. Partial lines are buffered until the newline
// arrives (or the buffer reaches maxLineLength), and Close flushes whatever
// is left.
//
// Thread Safety:
//   - Write and Close are safe for concurrent use.
type LineWriter struct {
	logger *slog.Logger
	level  slog.Level
	msg    string

	mu      sync.Mutex
	pending []byte
}

// NewLineWriter creates a LineWriter logging at the given level.
// Each line is emitted as msg with a "line" attribute plus any args.
func NewLineWriter(logger *slog.Logger, level slog.Level, msg string, args ...any) *LineWriter {
	if len(args) > 0 {
		logger = logger.With(args...)
	}
	return &LineWriter{
		logger: logger,
		level:  level,
		msg:    msg,
	}
}

// Write implements io.Writer. It never returns an error.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}

	if len(w.pending) >= maxLineLength {
		w.emit(w.pending)
		w.pending = nil
	}

	return len(p), nil
}

// Close logs any buffered partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
	return nil
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, w.msg, "line", string(line))
}
