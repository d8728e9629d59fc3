package logging

import (
	"fmt"
	"log"
	"strings"
)

// Level represents the logging level
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelNone  Level = "NONE"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelNone:  4,
}

// ParseLevel accepts a level name in any case.
func ParseLevel(name string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := levelRank[level]; !ok {
		return "", fmt.Errorf("unknown log level: %q", name)
	}
	return level, nil
}

// Logger is the leveled logging interface used across the pipeline.
type Logger interface {
	Debug(message string, args ...interface{})
	Info(message string, args ...interface{})
	Warn(message string, args ...interface{})
	Error(message string, args ...interface{})
}

// PrintLogger implements Logger on top of a standard library *log.Logger
type PrintLogger struct {
	level  Level
	output *log.Logger
}

// NewPrintLogger creates a logger writing to the standard log output at level.
func NewPrintLogger(level Level) *PrintLogger {
	return &PrintLogger{level: level, output: log.Default()}
}

// NewPrintLoggerTo writes to output instead of the standard logger.
func NewPrintLoggerTo(output *log.Logger, level Level) *PrintLogger {
	return &PrintLogger{level: level, output: output}
}

func (p *PrintLogger) shouldLog(level Level) bool {
	return levelRank[level] >= levelRank[p.level]
}

func (p *PrintLogger) Debug(message string, args ...interface{}) {
	if p.shouldLog(LevelDebug) {
		p.output.Printf("[DEBUG] "+message, args...)
	}
}

func (p *PrintLogger) Info(message string, args ...interface{}) {
	if p.shouldLog(LevelInfo) {
		p.output.Printf("[INFO] "+message, args...)
	}
}

func (p *PrintLogger) Warn(message string, args ...interface{}) {
	if p.shouldLog(LevelWarn) {
		p.output.Printf("[WARN] "+message, args...)
	}
}

func (p *PrintLogger) Error(message string, args ...interface{}) {
	if p.shouldLog(LevelError) {
		p.output.Printf("[ERROR] "+message, args...)
	}
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...interface{}) {}
func (NoopLogger) Info(string, ...interface{})  {}
func (NoopLogger) Warn(string, ...interface{})  {}
func (NoopLogger) Error(string, ...interface{}) {}

var (
	_ Logger = (*PrintLogger)(nil)
	_ Logger = NoopLogger{}
)
