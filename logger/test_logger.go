// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"fmt"
	"strings"
	"sync"
)

// TestLogger is a logger that outputs to testing.T/B
type TestLogger struct {
	t interface {
		Logf(format string, args ...interface{})
	}
}

// NewTestLogger creates a logger for tests
func NewTestLogger(t interface {
	Logf(format string, args ...interface{})
}) Logger {
	return &TestLogger{t: t}
}

func (l *TestLogger) format(level, msg string, keysAndValues ...interface{}) string {
	line := fmt.Sprintf("[%s] %s", level, msg)
	if pairs := formatPairs(keysAndValues); pairs != "" {
		line = fmt.Sprintf("%s | %s", line, pairs)
	}
	return line
}

func (l *TestLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("DEBUG", msg, keysAndValues...))
}

func (l *TestLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("INFO", msg, keysAndValues...))
}

func (l *TestLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("WARN", msg, keysAndValues...))
}

func (l *TestLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("%s", l.format("ERROR", msg, keysAndValues...))
}

// CaptureLogger records formatted log lines for assertions in tests.
type CaptureLogger struct {
	mu    sync.Mutex
	lines []string
}

func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{}
}

func (l *CaptureLogger) record(level, msg string, keysAndValues ...interface{}) {
	line := fmt.Sprintf("[%s] %s", level, msg)
	if pairs := formatPairs(keysAndValues); pairs != "" {
		line = fmt.Sprintf("%s | %s", line, pairs)
	}
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *CaptureLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Contains reports whether any recorded line contains the substring.
func (l *CaptureLogger) Contains(sub string) bool {
	for _, line := range l.Lines() {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func (l *CaptureLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.record("DEBUG", msg, keysAndValues...)
}

func (l *CaptureLogger) Info(msg string, keysAndValues ...interface{}) {
	l.record("INFO", msg, keysAndValues...)
}

func (l *CaptureLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.record("WARN", msg, keysAndValues...)
}

func (l *CaptureLogger) Error(msg string, keysAndValues ...interface{}) {
	l.record("ERROR", msg, keysAndValues...)
}
