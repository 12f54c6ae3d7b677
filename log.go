package iotcore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel is the severity ladder of §4.14, ordered least to most severe so
// SetLevel's "only messages at or above this level" comparison is a plain
// integer compare.
type LogLevel uint8

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarning
	LogError
	LogFatal
)

func (l LogLevel) String() string {
	switch l {
	case LogTrace:
		return "trace"
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarning:
		return "warning"
	case LogError:
		return "error"
	case LogFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LogTrace:
		return zerolog.TraceLevel
	case LogDebug:
		return zerolog.DebugLevel
	case LogInfo:
		return zerolog.InfoLevel
	case LogWarning:
		return zerolog.WarnLevel
	case LogError:
		return zerolog.ErrorLevel
	case LogFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.NoLevel
	}
}

// ParseLogLevel maps a case-insensitive name to a LogLevel, for level_set
// by name as §4.14 describes.
func ParseLogLevel(name string) (LogLevel, error) {
	switch strings.ToLower(name) {
	case "trace":
		return LogTrace, nil
	case "debug":
		return LogDebug, nil
	case "info":
		return LogInfo, nil
	case "warning", "warn":
		return LogWarning, nil
	case "error":
		return LogError, nil
	case "fatal":
		return LogFatal, nil
	default:
		return 0, withMessage(BadParameter, "unknown log level %q", name)
	}
}

// LogCallback is the application-supplied sink of §4.14: every emitted
// record is handed to it after the level gate, letting an embedder mirror
// records into its own logging pipeline in addition to (or instead of) the
// library's default zerolog writer.
type LogCallback func(level LogLevel, component, message string)

// Logger is the leveled, mutex-guarded facility of §4.14: a minimum level
// gate, a default zerolog.Logger sink, and an optional additional callback.
// The mutex exists because level_set and the callback pointer can be
// changed concurrently with log emission from worker goroutines.
type Logger struct {
	mu       sync.RWMutex
	level    LogLevel
	zl       zerolog.Logger
	callback LogCallback
}

// NewLogger builds a Logger wrapping zl, defaulting to LogInfo.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{level: LogInfo, zl: zl}
}

// SetLevel changes the minimum severity that reaches either sink.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current minimum severity.
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetCallback installs (or, with nil, removes) the application log sink.
func (l *Logger) SetCallback(cb LogCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = cb
}

// Log emits message at level, tagged with component, to both the zerolog
// sink and the application callback (if any), provided level meets the
// current minimum. The callback runs with the lock still held, §4.14,
// so a concurrent SetLevel/SetCallback can't interleave with it mid-record.
func (l *Logger) Log(level LogLevel, component, message string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}
	l.zl.WithLevel(level.zerologLevel()).Str("component", component).Msg(message)
	if l.callback != nil {
		l.callback(level, component, message)
	}
}

func (l *Logger) Tracef(component, format string, args ...interface{})   { l.logf(LogTrace, component, format, args...) }
func (l *Logger) Debugf(component, format string, args ...interface{})   { l.logf(LogDebug, component, format, args...) }
func (l *Logger) Infof(component, format string, args ...interface{})    { l.logf(LogInfo, component, format, args...) }
func (l *Logger) Warningf(component, format string, args ...interface{}) { l.logf(LogWarning, component, format, args...) }
func (l *Logger) Errorf(component, format string, args ...interface{})   { l.logf(LogError, component, format, args...) }

func (l *Logger) logf(level LogLevel, component, format string, args ...interface{}) {
	l.mu.RLock()
	min := l.level
	l.mu.RUnlock()
	if level < min {
		return
	}
	l.Log(level, component, fmt.Sprintf(format, args...))
}
