package framegear

import (
	"io"
	"log/slog"
)

// Logger is the structured logging interface used by gears and sessions.
// *slog.Logger satisfies it, so slog.Default() or any slog-backed logger
// can be passed to LoggerOption.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

// discardLogger is used when logging is switched off.
func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withAttrs returns a logger that adds attrs to every entry.
func withAttrs(l Logger, attrs ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(attrs...)
	}
	return &attrLogger{next: l, attrs: attrs}
}

type attrLogger struct {
	next  Logger
	attrs []any
}

func (l *attrLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.merge(args)...) }
func (l *attrLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.merge(args)...) }
func (l *attrLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.merge(args)...) }
func (l *attrLogger) Error(msg string, args ...any) { l.next.Error(msg, l.merge(args)...) }

func (l *attrLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}
