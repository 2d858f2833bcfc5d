package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level controls which messages a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
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

// Field is a single key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// WithField builds a single log field.
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithFields flattens a map into fields. Map iteration order is not
// stable, so the logger sorts keys before printing.
func WithFields(fields map[string]interface{}) []Field {
	out := make([]Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, Field{Key: k, Value: v})
	}
	return out
}

// Logger is a leveled console logger.
type Logger struct {
	level Level
	out   *log.Logger
}

// New creates a logger that writes to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(LevelError, msg, fields...) }

// emit accepts Field values and []Field slices so call sites can mix
// WithField and WithFields.
func (l *Logger) emit(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	flat := make([]Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.(type) {
		case Field:
			flat = append(flat, v)
		case []Field:
			flat = append(flat, v...)
		}
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].Key < flat[j].Key })

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range flat {
		b.WriteString(fmt.Sprintf(" %s=%v", f.Key, f.Value))
	}
	l.out.Println(b.String())
}
