package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]LogLevel{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

// zap has no trace level; one step below debug is reserved for it.
const zapTraceLevel = zapcore.DebugLevel - 1

// Logger wraps a zap core with printf-style helpers and runtime level changes.
type Logger struct {
	level zap.AtomicLevel
	base  *zap.Logger
}

// NewLogger creates a level-aware logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a level-aware logger writing to the provided destination.
func NewLoggerWithWriter(level LogLevel, w io.Writer) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	encCfg.EncodeLevel = encodeLevel
	encCfg.CallerKey = zapcore.OmitKey
	encCfg.StacktraceKey = zapcore.OmitKey
	encCfg.NameKey = zapcore.OmitKey
	encCfg.ConsoleSeparator = " "

	l := &Logger{level: zap.NewAtomicLevelAt(toZapLevel(level))}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), l.level)
	l.base = zap.New(core)
	return l
}

func encodeLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if level == zapTraceLevel {
		enc.AppendString("[TRACE]")
		return
	}
	enc.AppendString("[" + level.CapitalString() + "]")
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelTrace:
		return zapTraceLevel
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch {
	case level <= zapTraceLevel:
		return LevelTrace
	case level == zapcore.DebugLevel:
		return LevelDebug
	case level == zapcore.InfoLevel:
		return LevelInfo
	case level == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *Logger) Level() LogLevel {
	return fromZapLevel(l.level.Level())
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) logf(level zapcore.Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if ce := l.base.Check(level, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.logf(zapTraceLevel, format, args...)
}
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(zapcore.DebugLevel, format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(zapcore.InfoLevel, format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(zapcore.WarnLevel, format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(zapcore.ErrorLevel, format, args...)
}

// ParseLogLevel converts a string into a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	if lvl, ok := levelNames[strings.ToLower(s)]; ok {
		return lvl
	}
	return LevelInfo
}
