package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Field struct {
	Key   string
	Value interface{}
}

type Logger struct {
	level  Level
	logger *log.Logger
	mu     sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

func Init(level Level) {
	once.Do(func() {
		defaultLogger = &Logger{
			level:  level,
			logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		}
	})
}

func GetLogger() *Logger {
	Init(LevelInfo) // once.Do is a no-op if already initialized; provides memory barrier
	return defaultLogger
}

// NewLogger returns a sub-logger whose lines carry a [name] prefix.
func NewLogger(name string) *Logger {
	return &Logger{
		level:  GetLogger().level,
		logger: log.New(os.Stderr, "["+name+"] ", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	currentLevel := l.level
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	if len(fields) == 0 {
		l.logger.Printf("[%s] %s", levelString(level), msg)
		return
	}
	l.logger.Printf("[%s] %s %s", levelString(level), msg, formatFields(fields))
}

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func formatFields(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(FormatValue(f.Value))
	}
	return b.String()
}

func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float32:
		return fmt.Sprintf("%.2f", val)
	case float64:
		return fmt.Sprintf("%.2f", val)
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func Debug(msg string, fields ...Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...Field) { GetLogger().Error(msg, fields...) }
