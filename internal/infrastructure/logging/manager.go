// Package logging provides the training progress log manager.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/owm-go/owm/internal/shared"
)

// LogEntry represents a log entry.
type LogEntry struct {
	Level     shared.LogLevel `json:"level"`
	Message   string          `json:"message"`
	Logger    string          `json:"logger,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// LogHandler is a callback for log messages.
type LogHandler func(entry LogEntry)

// LogManager keeps a bounded ring of recent entries and fans them out to
// handlers. Handlers run on the caller's goroutine, in registration order.
type LogManager struct {
	mu         sync.RWMutex
	level      shared.LogLevel
	handlers   []LogHandler
	entries    []LogEntry
	maxEntries int
}

// ParseLevel normalises and validates a level name.
func ParseLevel(level string) (shared.LogLevel, error) {
	logLevel := shared.LogLevel(strings.ToLower(strings.TrimSpace(level)))
	switch logLevel {
	case shared.LogLevelDebug, shared.LogLevelInfo, shared.LogLevelWarning, shared.LogLevelError:
		return logLevel, nil
	case "warn":
		return shared.LogLevelWarning, nil
	}
	return "", fmt.Errorf("invalid log level: %s", level)
}

func safeInvokeLogHandler(handler LogHandler, entry LogEntry) {
	if handler == nil {
		return
	}

	defer func() {
		_ = recover()
	}()
	handler(entry)
}

// NewLogManager creates a new LogManager.
func NewLogManager(level shared.LogLevel, maxEntries int) *LogManager {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &LogManager{
		level:      level,
		handlers:   make([]LogHandler, 0),
		entries:    make([]LogEntry, 0),
		maxEntries: maxEntries,
	}
}

// NewLogManagerWithDefaults creates a LogManager with default settings.
func NewLogManagerWithDefaults() *LogManager {
	return NewLogManager(shared.LogLevelInfo, 1000)
}

// SetLevel sets the log level.
func (lm *LogManager) SetLevel(level string) error {
	if lm == nil {
		return fmt.Errorf("log manager is required")
	}

	logLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	lm.mu.Lock()
	lm.level = logLevel
	lm.mu.Unlock()

	return nil
}

// GetLevel returns the current log level.
func (lm *LogManager) GetLevel() shared.LogLevel {
	if lm == nil {
		return shared.LogLevelInfo
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.level
}

// AddHandler adds a log handler.
func (lm *LogManager) AddHandler(handler LogHandler) {
	if lm == nil || handler == nil {
		return
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.handlers = append(lm.handlers, handler)
}

// Log logs a message at the specified level.
func (lm *LogManager) Log(level shared.LogLevel, message string, data interface{}) {
	lm.LogWithLogger(level, "", message, data)
}

// LogWithLogger logs a message with a specific logger name.
func (lm *LogManager) LogWithLogger(level shared.LogLevel, logger, message string, data interface{}) {
	if lm == nil {
		return
	}

	if !lm.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Level:     level,
		Message:   message,
		Logger:    logger,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	lm.mu.Lock()
	lm.entries = append(lm.entries, entry)
	if len(lm.entries) > lm.maxEntries {
		lm.entries = lm.entries[1:]
	}
	handlers := make([]LogHandler, len(lm.handlers))
	copy(handlers, lm.handlers)
	lm.mu.Unlock()

	for _, handler := range handlers {
		safeInvokeLogHandler(handler, entry)
	}
}

// Logf formats and logs a message.
func (lm *LogManager) Logf(level shared.LogLevel, format string, args ...interface{}) {
	lm.Log(level, fmt.Sprintf(format, args...), nil)
}

func (lm *LogManager) shouldLog(level shared.LogLevel) bool {
	lm.mu.RLock()
	currentLevel := lm.level
	lm.mu.RUnlock()

	return levelPriority(level) >= levelPriority(currentLevel)
}

func levelPriority(level shared.LogLevel) int {
	switch level {
	case shared.LogLevelDebug:
		return 0
	case shared.LogLevelInfo:
		return 1
	case shared.LogLevelWarning:
		return 2
	case shared.LogLevelError:
		return 3
	default:
		return 1
	}
}

// Debug logs a debug message.
func (lm *LogManager) Debug(message string, data interface{}) {
	lm.Log(shared.LogLevelDebug, message, data)
}

// Info logs an info message.
func (lm *LogManager) Info(message string, data interface{}) {
	lm.Log(shared.LogLevelInfo, message, data)
}

// Warning logs a warning message.
func (lm *LogManager) Warning(message string, data interface{}) {
	lm.Log(shared.LogLevelWarning, message, data)
}

// Error logs an error message.
func (lm *LogManager) Error(message string, data interface{}) {
	lm.Log(shared.LogLevelError, message, data)
}

// GetEntries returns recent log entries.
func (lm *LogManager) GetEntries(limit int) []LogEntry {
	if lm == nil {
		return []LogEntry{}
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if limit <= 0 || limit > len(lm.entries) {
		limit = len(lm.entries)
	}

	result := make([]LogEntry, limit)
	copy(result, lm.entries[len(lm.entries)-limit:])
	return result
}

// GetEntriesByLevel returns log entries filtered by level.
func (lm *LogManager) GetEntriesByLevel(level shared.LogLevel, limit int) []LogEntry {
	if lm == nil {
		return []LogEntry{}
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	result := make([]LogEntry, 0)
	for i := len(lm.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if lm.entries[i].Level == level {
			result = append(result, lm.entries[i])
		}
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

// Messages returns the text of every retained entry in order.
func (lm *LogManager) Messages() []string {
	entries := lm.GetEntries(0)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

// Clear clears all log entries.
func (lm *LogManager) Clear() {
	if lm == nil {
		return
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.entries = make([]LogEntry, 0)
}

// Count returns the number of log entries.
func (lm *LogManager) Count() int {
	if lm == nil {
		return 0
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.entries)
}
