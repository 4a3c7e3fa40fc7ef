package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps the zap logger with additional functionality
type Logger struct {
	*zap.Logger
}

// NewLogger creates a new logger instance with production configuration
func NewLogger() (*Logger, error) {
	return NewLoggerWithLevel("info")
}

// NewLoggerWithLevel creates a production logger at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewLoggerWithLevel(level string) (*Logger, error) {
	return NewLoggerWithOutput(level, "stdout")
}

// NewLoggerWithOutput creates a production logger writing to the given zap
// sink paths instead of stdout.
func NewLoggerWithOutput(level string, outputs ...string) (*Logger, error) {
	config := zap.NewProductionConfig()

	config.OutputPaths = outputs
	config.ErrorOutputPaths = []string{"stderr"}

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	config.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger: zapLogger,
	}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named returns a child logger scoped to a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

// Critical logs an invariant violation.
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	if l.Logger != nil {
		return l.Logger.Sync()
	}

	return nil
}

// Throttle emits a warning at most once per interval for each key.
type Throttle struct {
	log      *Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle creates a throttled warning emitter.
func NewThrottle(log *Logger, interval time.Duration) *Throttle {
	return &Throttle{
		log:      log,
		interval: interval,
		now:      time.Now,
		mu:       sync.Mutex{},
		last:     make(map[string]time.Time),
	}
}

// Warn logs msg unless the same key was logged within the interval.
// It reports whether the message was emitted.
func (t *Throttle) Warn(key, msg string, fields ...zap.Field) bool {
	t.mu.Lock()
	now := t.now()

	if last, ok := t.last[key]; ok && now.Sub(last) < t.interval {
		t.mu.Unlock()

		return false
	}

	t.last[key] = now
	t.mu.Unlock()

	t.log.Warn(msg, fields...)

	return true
}
