package logging

import (
	"fmt"
	"os"
)

// EarlyLog writes to stdout/stderr before the structured logger is configured.
type EarlyLog struct {
	service string
}

func NewEarlyLog(service string) *EarlyLog {
	return &EarlyLog{service: service}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write(os.Stderr, "ERROR", msg, args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write(os.Stderr, "FATAL", msg, args...)
	os.Exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write(os.Stderr, "WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write(os.Stdout, "INFO", msg, args...)
}

func (l *EarlyLog) write(f *os.File, level, msg string, args ...interface{}) {
	prefix := level + ": "
	if l.service != "" {
		prefix = fmt.Sprintf("%s [%s]: ", level, l.service)
	}
	fmt.Fprintf(f, prefix+msg+"\n", args...)
}
