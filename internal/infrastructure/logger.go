package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"casevault/internal/config"
)

type contextKey string

// TraceIDContextKey carries the per-request trace id.
const TraceIDContextKey contextKey = "trace_id"

// redactedKeys never reach a log sink with their value.
var redactedKeys = map[string]struct{}{
	"password":         {},
	"current_password": {},
	"new_password":     {},
	"passphrase":       {},
	"token":            {},
	"secret":           {},
}

const redacted = "[REDACTED]"

// logSink owns the log file of the process logger.
var logSink struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// InitializeLogger builds the process logger from cfg and installs it as the
// slog default. A previously opened log file is closed.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	w, file, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	logger := NewLoggerWithWriter(w, &slog.HandlerOptions{
		AddSource: cfg.Development,
		Level:     parseLogLevel(cfg.Level),
	})

	logSink.mu.Lock()
	if logSink.file != nil {
		_ = logSink.file.Close()
	}
	logSink.file = file
	logSink.logger = logger
	logSink.mu.Unlock()

	slog.SetDefault(logger)
	return logger, nil
}

// GetLogger returns the process logger, or slog.Default before
// InitializeLogger has run.
func GetLogger() *slog.Logger {
	logSink.mu.Lock()
	defer logSink.mu.Unlock()
	if logSink.logger == nil {
		return slog.Default()
	}
	return logSink.logger
}

// CloseLogFile flushes and closes the log file, if any. Later records go to
// whatever else the logger writes to.
func CloseLogFile() error {
	logSink.mu.Lock()
	defer logSink.mu.Unlock()
	if logSink.file == nil {
		return nil
	}
	err := logSink.file.Close()
	logSink.file = nil
	return err
}

// NewLoggerWithWriter returns a JSON logger on w that adds trace ids from the
// context and redacts secret-named attributes.
func NewLoggerWithWriter(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	next := opts.ReplaceAttr
	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
			a.Value = slog.StringValue(redacted)
		}
		if next != nil {
			return next(groups, a)
		}
		return a
	}
	return slog.New(&traceHandler{Handler: slog.NewJSONHandler(w, opts)})
}

func openOutput(cfg config.LoggingConfig) (io.Writer, *os.File, error) {
	output := strings.ToLower(cfg.Output)
	if output != "file" && output != "both" {
		return os.Stdout, nil, nil
	}
	if cfg.FilePath == "" {
		if output == "file" {
			return nil, nil, fmt.Errorf("logging output %q needs a file path", output)
		}
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if output == "file" {
		return file, file, nil
	}
	return io.MultiWriter(os.Stdout, file), file, nil
}

// traceHandler stamps trace_id from the context onto every record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLogLevel accepts slog level names plus "warning". Unknown names are
// info.
func parseLogLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDContextKey).(string)
	return id
}
