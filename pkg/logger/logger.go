package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is the leveled key/value logger used across the service.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[level]string{
	levelDebug: "DEBUG",
	levelInfo:  "INFO",
	levelWarn:  "WARN",
	levelError: "ERROR",
}

type stdLogger struct {
	mu    sync.Mutex
	out   *log.Logger
	level level
}

// NewLogger creates a logger writing to stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func NewLogger(lvl string) Logger {
	return NewLoggerWithWriter(lvl, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w. Used by tests to
// capture output.
func NewLoggerWithWriter(lvl string, w io.Writer) Logger {
	return &stdLogger{
		out:   log.New(w, "", log.Ldate|log.Ltime),
		level: parseLevel(lvl),
	}
}

func parseLevel(s string) level {
	switch strings.ToLower(s) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *stdLogger) Debug(msg string, keyvals ...interface{}) { l.log(levelDebug, msg, keyvals...) }
func (l *stdLogger) Info(msg string, keyvals ...interface{})  { l.log(levelInfo, msg, keyvals...) }
func (l *stdLogger) Warn(msg string, keyvals ...interface{})  { l.log(levelWarn, msg, keyvals...) }
func (l *stdLogger) Error(msg string, keyvals ...interface{}) { l.log(levelError, msg, keyvals...) }

func (l *stdLogger) log(lvl level, msg string, keyvals ...interface{}) {
	if lvl < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Println(levelNames[lvl] + ": " + formatMsg(msg, keyvals...))
}

func formatMsg(msg string, keyvals ...interface{}) string {
	if len(keyvals) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)

	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])
		value := "missing"
		if i+1 < len(keyvals) {
			value = fmt.Sprintf("%v", keyvals[i+1])
		}
		b.WriteString(" " + key + "=" + value)
	}

	return b.String()
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() Logger {
	return &stdLogger{out: log.New(io.Discard, "", 0), level: levelError + 1}
}
