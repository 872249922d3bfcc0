// Package log provides a structured logging system for historykit components.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Context keys for propagating logging context
const (
	ComponentKey = "component"
	AuthorKey    = "author"
	KitKey       = "kit"
	CycleKey     = "cycle"
)

type ctxKey string

// Entry represents a single log entry.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger defines the core logging interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// Printf-style variants; args are key-value pairs.
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
	Fatalf(msg string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	With(fields ...Field) Logger

	// WithContext copies component/author/kit/cycle values stored with ContextWith.
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// BaseLogger implements the Logger interface. Loggers derived with With*
// share the level of the logger they were derived from.
type BaseLogger struct {
	level      *atomic.Int32
	formatter  Formatter
	outputs    []Output
	slogLogger *slog.Logger
	handler    *bridgeHandler
}

// ContextWith stores a logging field on ctx for later extraction by WithContext.
func ContextWith(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, ctxKey(key), value)
}

// ContextExtractor extracts logging context from a context.Context.
func ContextExtractor(ctx context.Context) Fields {
	fields := Fields{}
	if ctx == nil {
		return fields
	}
	for _, k := range []string{ComponentKey, AuthorKey, KitKey, CycleKey} {
		if v := ctx.Value(ctxKey(k)); v != nil {
			fields[k] = v
		}
	}
	return fields
}

// NewLogger creates a new logger with the given options.
func NewLogger(options ...LoggerOption) Logger {
	return newBaseLogger(options...)
}

func newBaseLogger(options ...LoggerOption) *BaseLogger {
	logger := &BaseLogger{
		level:     new(atomic.Int32),
		formatter: &JSONFormatter{},
	}
	logger.level.Store(int32(InfoLevel))
	for _, option := range options {
		option(logger)
	}
	if len(logger.outputs) == 0 {
		logger.outputs = append(logger.outputs, NewConsoleOutput())
	}
	logger.handler = newBridgeHandler(logger)
	logger.slogLogger = slog.New(logger.handler)
	return logger
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) {
		l.level.Store(int32(level))
	}
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) {
		l.formatter = formatter
	}
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) {
		l.outputs = append(l.outputs, output)
	}
}

func (l *BaseLogger) derive(attrs []slog.Attr) *BaseLogger {
	if len(attrs) == 0 {
		return l
	}
	nl := *l
	nl.slogLogger = l.slogLogger.With(attrsToAny(attrs)...)
	return &nl
}

func (l *BaseLogger) emit(level Level, msg string, attrs []slog.Attr) {
	if level < l.GetLevel() {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

func (l *BaseLogger) Debug(msg string, fields ...Field) {
	l.emit(DebugLevel, msg, attrsFromFieldSlice(fields))
}
func (l *BaseLogger) Info(msg string, fields ...Field) {
	l.emit(InfoLevel, msg, attrsFromFieldSlice(fields))
}
func (l *BaseLogger) Warn(msg string, fields ...Field) {
	l.emit(WarnLevel, msg, attrsFromFieldSlice(fields))
}
func (l *BaseLogger) Error(msg string, fields ...Field) {
	l.emit(ErrorLevel, msg, attrsFromFieldSlice(fields))
}
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.emit(FatalLevel, msg, attrsFromFieldSlice(fields))
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.emit(DebugLevel, msg, argsToAttrs(args)) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.emit(InfoLevel, msg, argsToAttrs(args)) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.emit(WarnLevel, msg, argsToAttrs(args)) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.emit(ErrorLevel, msg, argsToAttrs(args)) }
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) { l.emit(FatalLevel, msg, argsToAttrs(args)) }

func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.derive([]slog.Attr{slog.Any(key, value)})
}

func (l *BaseLogger) WithFields(fields Fields) Logger {
	return l.derive(attrsFromMap(fields))
}

func (l *BaseLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

func (l *BaseLogger) With(fields ...Field) Logger {
	return l.derive(attrsFromFieldSlice(fields))
}

func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	return l.WithFields(ContextExtractor(ctx))
}

func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *BaseLogger) SetLevel(level Level) { l.level.Store(int32(level)) }

func (l *BaseLogger) GetLevel() Level { return Level(l.level.Load()) }

// Close closes every output of the logger.
func (l *BaseLogger) Close() error {
	var first error
	for _, out := range l.outputs {
		if err := out.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
