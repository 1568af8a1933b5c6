package framegear

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Interface(t *testing.T) {
	// *slog.Logger satisfies Logger
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()
	require.NotNil(t, logger)
	assert.Equal(t, slog.Default(), logger)
}

func TestDiscardLogger_Methods(t *testing.T) {
	logger := discardLogger()

	// These should not panic
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

// mockLogger records every call. Sessions log from their own goroutines,
// so it is locked.
type mockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *mockLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *mockLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func TestLogger_CustomImplementation(t *testing.T) {
	logger := &mockLogger{}

	opts, err := newOptions([]Option{LoggerOption(logger)})
	require.NoError(t, err)
	assert.True(t, opts.logging)
	assert.Same(t, logger, opts.logger)

	opts.logger.Warn("test warn", "key", "value")
	assert.Equal(t, []string{"test warn"}, logger.messages("warn"))
}

func TestLoggingOption_DisabledByDefault(t *testing.T) {
	opts, err := newOptions(nil)
	require.NoError(t, err)
	assert.False(t, opts.logging)
	assert.NotEqual(t, slog.Default(), opts.logger)

	opts, err = newOptions([]Option{LoggingOption(true)})
	require.NoError(t, err)
	assert.Equal(t, slog.Default(), opts.logger)
}

func TestWithAttrs(t *testing.T) {
	logger := &mockLogger{}
	l := withAttrs(logger, "session", "abc")

	l.Info("hello", "n", 1)
	l.Debug("plain")

	require.Len(t, logger.entries, 2)
	assert.Equal(t, []any{"session", "abc", "n", 1}, logger.entries[0].args)
	assert.Equal(t, []any{"session", "abc"}, logger.entries[1].args)

	_, ok := withAttrs(slog.Default(), "k", "v").(*slog.Logger)
	assert.True(t, ok)
}
