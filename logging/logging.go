// Package logging provides real-time log output for rxmq sockets and streams.
// Output is a single line per entry: LEVEL TIMESTAMP [component] message key=value ...
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex // shared by derived loggers writing to the same output
	output    io.Writer
	minLevel  Level
	component string
	address   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything. Libraries default to it.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// ParseLevel converts a config string to a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		address:   l.address,
	}
}

// WithAddress returns a new logger that tags every entry with a transport address.
func (l *Logger) WithAddress(address string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		address:   address,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as sorted key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if l.address != "" {
		merged["address"] = l.address
	}
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Socket and stream lifecycle events ---

// SocketBound logs a publisher socket becoming ready.
func (l *Logger) SocketBound(address string, waited time.Duration, timedOut bool) {
	fields := map[string]interface{}{
		"address": address,
		"waited":  waited.String(),
	}
	if timedOut {
		fields["timed_out"] = true
		l.Warn("publisher_bound", fields)
		return
	}
	l.Info("publisher_bound", fields)
}

// SocketConnected logs a subscriber socket becoming ready.
func (l *Logger) SocketConnected(address, topic string, waited time.Duration, timedOut bool) {
	fields := map[string]interface{}{
		"address": address,
		"topic":   topic,
		"waited":  waited.String(),
	}
	if timedOut {
		fields["timed_out"] = true
		l.Warn("subscriber_connected", fields)
		return
	}
	l.Info("subscriber_connected", fields)
}

// ReadyEvent logs a readiness signal raised by the transport.
func (l *Logger) ReadyEvent(address, event string) {
	l.Debug("socket_event", map[string]interface{}{
		"address": address,
		"event":   event,
	})
}

// LoopStarted logs the start of a subscriber receive loop.
func (l *Logger) LoopStarted(topic, id string) {
	l.Debug("receive_loop_started", map[string]interface{}{
		"topic": topic,
		"id":    id,
	})
}

// LoopExited logs the end of a subscriber receive loop.
func (l *Logger) LoopExited(topic, id string, received uint64, err error) {
	fields := map[string]interface{}{
		"topic":    topic,
		"id":       id,
		"received": received,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("receive_loop_exited", fields)
		return
	}
	l.Debug("receive_loop_exited", fields)
}

// Dropped logs a frame discarded by the receive loop.
func (l *Logger) Dropped(topic, reason string) {
	l.Debug("frame_dropped", map[string]interface{}{
		"topic":  topic,
		"reason": reason,
	})
}
