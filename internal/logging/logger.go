package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// ParseLevel converts a config string to a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn, "WARNING":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	case LogLevelFatal:
		return LogLevelFatal
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Process-wide defaults applied to loggers created afterwards.
var (
	defaultsMu    sync.RWMutex
	defaultLevel  = LogLevelInfo
	defaultOutput io.Writer
)

// SetDefaultLevel sets the minimum level for loggers created after the call
func SetDefaultLevel(level LogLevel) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultLevel = level
}

// SetDefaultOutput adds an extra JSON output (usually a log file) to loggers
// created after the call. Pass nil to remove it.
func SetDefaultOutput(w io.Writer) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultOutput = w
}

// Logger provides structured logging for one component
type Logger struct {
	component string
	minLevel  LogLevel
	console   io.Writer
	outputs   []io.Writer
	mu        sync.Mutex
	zl        zerolog.Logger
}

// NewLogger creates a new logger for a specific component
func NewLogger(component string) *Logger {
	defaultsMu.RLock()
	level := defaultLevel
	extra := defaultOutput
	defaultsMu.RUnlock()

	l := &Logger{
		component: component,
		minLevel:  level,
		console: zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05.000",
		},
	}
	if extra != nil {
		l.outputs = append(l.outputs, extra)
	}
	l.rebuild()
	return l
}

// Discard returns a logger that writes nothing
func Discard() *Logger {
	l := &Logger{component: "discard", minLevel: LogLevelFatal}
	l.zl = zerolog.Nop()
	return l
}

// rebuild recreates the zerolog logger; callers hold l.mu or own l exclusively
func (l *Logger) rebuild() {
	writers := make([]io.Writer, 0, len(l.outputs)+1)
	if l.console != nil {
		writers = append(writers, l.console)
	}
	writers = append(writers, l.outputs...)

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(l.minLevel.zerolog()).
		With().
		Timestamp().
		Str("component", l.component).
		Logger()
}

// SetMinLevel sets the minimum log level to output
func (l *Logger) SetMinLevel(level LogLevel) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
	l.rebuild()
	return l
}

// AddOutput adds a JSON output writer for logs
func (l *Logger) AddOutput(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outputs = append(l.outputs, w)
	l.rebuild()
	return l
}

// SetConsole replaces the human-readable console writer; nil disables it
func (l *Logger) SetConsole(w io.Writer) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.rebuild()
	return l
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// log writes a log entry
func (l *Logger) log(level LogLevel, message string, err error, context map[string]interface{}) {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	ev := zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	if len(context) > 0 {
		ev = ev.Fields(context)
	}
	ev.Msg(message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, nil, nil)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelDebug, message, nil, context)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, nil, nil)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelInfo, message, nil, context)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, nil, nil)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(message string, context map[string]interface{}) {
	l.log(LogLevelWarn, message, nil, context)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, err, nil)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(message string, err error, context map[string]interface{}) {
	l.log(LogLevelError, message, err, context)
}

// Fatal logs a fatal error message. It does not exit the process.
func (l *Logger) Fatal(message string, err error) {
	l.log(LogLevelFatal, message, err, nil)
}

// WithContext returns a logger that includes the given context on every entry
func (l *Logger) WithContext(context map[string]interface{}) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		context: context,
	}
}

// ContextLogger is a logger with pre-set context
type ContextLogger struct {
	logger  *Logger
	context map[string]interface{}
}

// Debug logs a debug message with pre-set context
func (cl *ContextLogger) Debug(message string) {
	cl.logger.log(LogLevelDebug, message, nil, cl.context)
}

// Info logs an info message with pre-set context
func (cl *ContextLogger) Info(message string) {
	cl.logger.log(LogLevelInfo, message, nil, cl.context)
}

// Warn logs a warning message with pre-set context
func (cl *ContextLogger) Warn(message string) {
	cl.logger.log(LogLevelWarn, message, nil, cl.context)
}

// Error logs an error message with pre-set context
func (cl *ContextLogger) Error(message string, err error) {
	cl.logger.log(LogLevelError, message, err, cl.context)
}
