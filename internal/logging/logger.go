// Package logging provides structured logging for hoedur using zap.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with hoedur-specific helpers.
type Logger struct {
	*zap.Logger
	onRunResult func(cost uint64, classification string)
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnRunResult sets a callback invoked every time RunResult logs.
// Nothing in this module installs one; the statistics dashboard
// refreshes on its own tea.Tick timer.
func (l *Logger) SetOnRunResult(fn func(cost uint64, classification string)) {
	l.onRunResult = fn
}

// RunStart logs the beginning of an execution engine run.
func (l *Logger) RunStart(inputID string, snapshotHandle int) {
	l.Debug("run start",
		zap.String("input", inputID),
		zap.Int("snapshot", snapshotHandle),
	)
}

// RunResult logs the outcome of a completed run.
func (l *Logger) RunResult(inputID, classification string, cost uint64) {
	if l.onRunResult != nil {
		l.onRunResult(cost, classification)
	}
	l.Debug("run result",
		zap.String("input", inputID),
		zap.String("classification", classification),
		zap.Uint64("cost", cost),
	)
}

// Admit logs a corpus admission decision.
func (l *Logger) Admit(inputID string, admitted bool, reason string) {
	l.Info("admit",
		zap.String("input", inputID),
		zap.Bool("admitted", admitted),
		zap.String("reason", reason),
	)
}

// Crash logs a crash admission.
func (l *Logger) Crash(inputID, fingerprint, classification string) {
	l.Warn("crash",
		zap.String("input", inputID),
		zap.String("fingerprint", fingerprint),
		zap.String("classification", classification),
	)
}

// Evict logs a snapshot or corpus eviction.
func (l *Logger) Evict(kind string, handle int) {
	l.Debug("evict",
		zap.String("kind", kind),
		zap.Int("handle", handle),
	)
}

// StreamDiscovered logs dynamic stream-set growth.
func (l *Logger) StreamDiscovered(id string, category string) {
	l.Info("stream discovered",
		zap.String("id", id),
		zap.String("category", category),
	)
}

// WithCategory returns a logger with the category field preset.
func (l *Logger) WithCategory(category string) *Logger {
	return &Logger{
		Logger:      l.Logger.With(zap.String("cat", category)),
		onRunResult: l.onRunResult,
	}
}

// Hex formats a uint64 as a 0x-prefixed hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Stream creates a stream-id field.
func Stream(id string) zap.Field {
	return zap.String("stream", id)
}
