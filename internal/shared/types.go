// Package shared provides shared types used across all modules in owm-go.
package shared

import (
	"fmt"
	"time"
)

// ============================================================================
// Log Levels
// ============================================================================

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ============================================================================
// Event Types
// ============================================================================

// EventType represents the type of an event.
type EventType string

const (
	EventRunStarted     EventType = "run:started"
	EventRunCompleted   EventType = "run:completed"
	EventEpochCompleted EventType = "epoch:completed"
	EventTaskConverged  EventType = "task:converged"
	EventTaskExtended   EventType = "task:extended"
	EventTaskCompleted  EventType = "task:completed"
	EventTaskFailed     EventType = "task:failed"
)

// EventWildcard subscribes to every event type.
const EventWildcard EventType = "*"

// Event represents a generic event in the system.
type Event struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"runId,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Int reads an integer payload field, returning 0 when absent.
func (e Event) Int(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float reads a float payload field, returning 0 when absent.
func (e Event) Float(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool reads a boolean payload field.
func (e Event) Bool(key string) bool {
	v, _ := e.Payload[key].(bool)
	return v
}

// String reads a string payload field.
func (e Event) String(key string) string {
	v, _ := e.Payload[key].(string)
	return v
}

// ============================================================================
// Utility Functions
// ============================================================================

// Now returns the current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// FormatElapsed renders a duration as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	h, rem := secs/3600, secs%3600
	m, s := rem/60, rem%60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
