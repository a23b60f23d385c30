package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bt/internal/bt"
)

// tabHandler emits one tab-separated line per record:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
//
// Each line is assembled in full and written once, so concurrent uploads
// logging from their goroutines never interleave fields.
type tabHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	runID string

	// preformatted holds attrs bound via WithAttrs, already rendered.
	preformatted string
}

func (h *tabHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *tabHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format(time.RFC3339))
	b.WriteByte('\t')
	b.WriteString(r.Level.String())
	b.WriteByte('\t')
	b.WriteString(h.runID)
	b.WriteByte('\t')
	b.WriteString(r.Message)
	b.WriteString(h.preformatted)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *tabHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.preformatted)
	for _, a := range attrs {
		writeAttr(&b, a)
	}
	nh := *h
	nh.preformatted = b.String()
	return &nh
}

// Groups are flattened; the line format has no nesting to express them.
func (h *tabHandler) WithGroup(string) slog.Handler { return h }

func writeAttr(b *strings.Builder, a slog.Attr) {
	b.WriteByte('\t')
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

// runLogger is the per-invocation logger handed to the service. It writes to
// log/bt.log and stderr, and owns the log file until Close.
type runLogger struct {
	sl   *slog.Logger
	file *os.File
}

// newRunLogger opens (appending) the run's log file under logDir. runID tags
// every line so interleaved runs in the shared file stay attributable.
func newRunLogger(logDir string, runID string) (*runLogger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, "bt.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := &tabHandler{
		mu:    &sync.Mutex{},
		out:   io.MultiWriter(f, os.Stderr),
		runID: runID,
	}
	return &runLogger{sl: slog.New(handler), file: f}, nil
}

func (l *runLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *runLogger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *runLogger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *runLogger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *runLogger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

var _ bt.Logger = (*runLogger)(nil)
