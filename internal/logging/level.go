package logging

import (
	"fmt"
	"strings"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{Debug: "DEBUG", Info: "INFO", Warn: "WARN", Error: "ERROR"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "UNKNOWN"
	}
	return levelNames[l]
}

var levelAliases = map[string]Level{
	"":        Info,
	"debug":   Debug,
	"info":    Info,
	"warn":    Warn,
	"warning": Warn,
	"error":   Error,
}

// ParseLevel converts a config or flag value to a Level. Empty means Info.
func ParseLevel(s string) (Level, error) {
	l, ok := levelAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
	return l, nil
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	}
	return "unknown"
}

// ParseFormat converts a config or flag value to a Format. Empty means Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	}
	return 0, fmt.Errorf("unsupported log format %q", s)
}
