// Package logging writes structured JSONL events. Every event carries the
// session and kernel it belongs to, and request-scoped events carry the
// request id, so one client's log can be grepped per execution.
package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// ParseLevel maps a config string onto a Level.
func ParseLevel(raw string) (Level, bool) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo, "":
		return LevelInfo, true
	case LevelWarn, "warning":
		return LevelWarn, true
	case LevelError:
		return LevelError, true
	}
	return LevelInfo, false
}

// Category names the subsystem that logged.
type Category string

const (
	CategorySession   Category = "session"
	CategoryTransport Category = "transport"
	CategoryRouter    Category = "router"
	CategoryRender    Category = "render"
	CategoryServer    Category = "server"
)

// Event is one JSONL line.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	KernelID  string         `json:"kernel_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// destination receives events at or above floor.
type destination struct {
	w     io.Writer
	floor Level
	name  string
}

// Logger fans events out to its destinations. A nil *Logger discards
// everything, so components can log unconditionally.
type Logger struct {
	mu        sync.Mutex
	sessionID string
	kernelID  string
	minLevel  Level
	dests     []destination
	closers   []io.Closer
}

// NewLogger logs to <baseDir>/sessions/<sessionID>.jsonl ("default" when
// sessionID is empty) and copies errors to <baseDir>/errors.jsonl.
func NewLogger(baseDir, sessionID string) (*Logger, error) {
	name := sessionID
	if name == "" {
		name = "default"
	}
	session, err := openAppend(filepath.Join(baseDir, "sessions", name+".jsonl"))
	if err != nil {
		return nil, err
	}
	errs, err := openAppend(filepath.Join(baseDir, "errors.jsonl"))
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return &Logger{
		sessionID: sessionID,
		minLevel:  LevelInfo,
		dests: []destination{
			{w: session, floor: LevelDebug, name: "session log"},
			{w: errs, floor: LevelError, name: "error log"},
		},
		closers: []io.Closer{session, errs},
	}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

// NewWriterLogger creates a logger that writes every event to w.
func NewWriterLogger(w io.Writer, sessionID string) *Logger {
	return &Logger{
		sessionID: sessionID,
		minLevel:  LevelInfo,
		dests:     []destination{{w: w, floor: LevelDebug, name: "writer"}},
	}
}

// SetMinLevel drops events below level.
func (l *Logger) SetMinLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// SetSession sets the session and kernel ids stamped on subsequent events.
// The negotiator only learns the kernel id after the handshake.
func (l *Logger) SetSession(sessionID, kernelID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.sessionID, l.kernelID = sessionID, kernelID
	l.mu.Unlock()
}

// Log stamps event and writes it to every destination whose floor it meets.
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelRank[event.Level] < levelRank[l.minLevel] {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.KernelID == "" {
		event.KernelID = l.kernelID
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}
	line = append(line, '\n')

	for _, d := range l.dests {
		if levelRank[event.Level] < levelRank[d.floor] {
			continue
		}
		if _, err := d.w.Write(line); err != nil {
			return fmt.Errorf("write %s: %w", d.name, err)
		}
	}
	return nil
}

func (l *Logger) emit(level Level, category Category, eventType, message string, details map[string]any) error {
	return l.Log(Event{Level: level, Category: category, EventType: eventType, Message: message, Details: details})
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.emit(LevelDebug, category, eventType, message, details)
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.emit(LevelInfo, category, eventType, message, details)
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.emit(LevelWarn, category, eventType, message, details)
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.emit(LevelError, category, eventType, message, details)
}

// Request logs an event scoped to a single request id.
func (l *Logger) Request(level Level, category Category, eventType, requestID, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		RequestID: requestID,
		Message:   message,
		Details:   details,
	})
}

// Close closes the log files. Writer loggers have nothing to close.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.dests = nil
	l.mu.Unlock()

	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// ReadRecentEvents returns the last count events of a JSONL log. Lines that
// are not events are skipped.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		var event Event
		if json.Unmarshal(scanner.Bytes(), &event) != nil {
			continue
		}
		events = append(events, event)
		if count > 0 && len(events) > count {
			events = events[1:]
		}
	}
	return events, scanner.Err()
}
