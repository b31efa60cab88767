// Package logging is the leveled, structured logger shared by every
// package. Library code only logs through a Logger it was handed or
// through Default, which discards output until the command sets one.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// maxValueLen bounds how much of a byte or string value is rendered, so
// debug logging of binary replies stays readable.
const maxValueLen = 96

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Enabled reports whether l would emit entries at level. Loggers that do
// not expose their level are assumed to emit everything.
func Enabled(l Logger, level Level) bool {
	if b, ok := l.(*baseLogger); ok {
		return level >= b.level
	}
	return true
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = New(Info, Text, io.Discard)
)

// Default returns the process-wide logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger. nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// FromConfig builds a Logger from the textual level and format used in
// config files and flags.
func FromConfig(level, format string, out io.Writer) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return New(lvl, f, out), nil
}

type baseLogger struct {
	level  Level
	format Format
	fields []Field
	out    *log.Logger
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	if format == JSON {
		// the entry carries its own timestamp
		flags = 0
	}
	return &baseLogger{level: level, format: format, out: log.New(out, "", flags)}
}

func (l *baseLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &child
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *baseLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	for _, group := range [][]Field{l.fields, fields} {
		for _, f := range group {
			if f.Key != "" {
				all = append(all, f)
			}
		}
	}
	if l.format == JSON {
		l.out.Print(encodeJSON(level, msg, all))
		return
	}
	l.out.Print(encodeText(level, msg, all))
}

// encodeText renders "[LEVEL] msg k=v k2="spaced value"".
func encodeText(level Level, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		v := fmt.Sprint(value(f.Value))
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			v = strconv.Quote(v)
		}
		b.WriteString(v)
	}
	return b.String()
}

func encodeJSON(level Level, msg string, fields []Field) string {
	entry := make(map[string]any, len(fields)+3)
	for _, f := range fields {
		entry[f.Key] = value(f.Value)
	}
	entry["time"] = time.Now().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg
	data, err := json.Marshal(entry)
	if err != nil {
		return encodeText(Error, "log entry not encodable", []Field{F("msg", msg), F("error", err)})
	}
	return string(data)
}

// value converts field values into something both encoders print well.
func value(v any) any {
	switch x := v.(type) {
	case error:
		return x.Error()
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case []byte:
		return clip(bytesText(x), len(x))
	case string:
		return clip(x, len(x))
	}
	return v
}

// bytesText shows printable payloads as text and anything else as hex.
func bytesText(b []byte) string {
	head := b[:min(len(b), maxValueLen)]
	if utf8.Valid(head) && !strings.ContainsFunc(string(head), func(r rune) bool { return r < ' ' && r != '\n' && r != '\r' && r != '\t' }) {
		return string(head)
	}
	return fmt.Sprintf("%x", head)
}

func clip(s string, n int) string {
	if len(s) <= maxValueLen && n <= maxValueLen {
		return s
	}
	if len(s) > maxValueLen {
		s = s[:maxValueLen]
	}
	return fmt.Sprintf("%s...(%d bytes)", s, n)
}
