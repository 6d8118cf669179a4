// Package audit records vault operations. Events identify files by id only; filenames,
// passwords and keys are never part of an event.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventTypeRegister    EventType = "register"
	EventTypeUnlock      EventType = "unlock"
	EventTypeLock        EventType = "lock"
	EventTypeSeal        EventType = "seal"
	EventTypeOpen        EventType = "open"
	EventTypeDelete      EventType = "delete"
	EventTypeKeyRotation EventType = "key_rotation"
)

// AuditEvent represents a single audit log event.
type AuditEvent struct {
	Timestamp          time.Time              `json:"timestamp"`
	EventType          EventType              `json:"event_type"`
	AccountID          string                 `json:"account_id"`
	FileID             string                 `json:"file_id,omitempty"`
	Algorithm          string                 `json:"algorithm,omitempty"`
	SecondaryProtected bool                   `json:"secondary_protected,omitempty"`
	Reason             string                 `json:"reason,omitempty"`
	FilesRewrapped     int                    `json:"files_rewrapped,omitempty"`
	Success            bool                   `json:"success"`
	Error              string                 `json:"error,omitempty"`
	Duration           time.Duration          `json:"duration_ms"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogFile logs a seal, open or delete of a single file.
	LogFile(eventType EventType, accountID, fileID, algorithm string, secondaryProtected bool, err error, duration time.Duration)

	// LogSession logs a register, unlock or lock of the vault session.
	LogSession(eventType EventType, accountID, reason string, err error)

	// LogKeyRotation logs a master password rotation.
	LogKeyRotation(accountID string, filesRewrapped int, err error, duration time.Duration)

	// Events returns the buffered events, oldest first.
	Events() []*AuditEvent
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
}

// NewLogger creates a new audit logger keeping at most maxEvents in memory.
// A nil writer keeps events in memory only.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return &auditLogger{
		events:    make([]*AuditEvent, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var writeErr error
	if l.writer != nil {
		writeErr = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return writeErr
}

func (l *auditLogger) LogFile(eventType EventType, accountID, fileID, algorithm string, secondaryProtected bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:          time.Now(),
		EventType:          eventType,
		AccountID:          accountID,
		FileID:             fileID,
		Algorithm:          algorithm,
		SecondaryProtected: secondaryProtected,
		Success:            err == nil,
		Duration:           duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = l.Log(event)
}

func (l *auditLogger) LogSession(eventType EventType, accountID, reason string, err error) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		AccountID: accountID,
		Reason:    reason,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = l.Log(event)
}

func (l *auditLogger) LogKeyRotation(accountID string, filesRewrapped int, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp:      time.Now(),
		EventType:      EventTypeKeyRotation,
		AccountID:      accountID,
		FilesRewrapped: filesRewrapped,
		Success:        err == nil,
		Duration:       duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	_ = l.Log(event)
}

// Events returns a copy of the buffered events.
func (l *auditLogger) Events() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// JSONWriter writes each event as one JSON line.
type JSONWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONWriter creates a JSONWriter writing to w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

func (w *JSONWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintf(w.w, "%s\n", data)
	return err
}

// LogrusWriter forwards events to a logrus logger as structured fields.
type LogrusWriter struct {
	logger *logrus.Logger
}

// NewLogrusWriter creates a LogrusWriter.
func NewLogrusWriter(logger *logrus.Logger) *LogrusWriter {
	return &LogrusWriter{logger: logger}
}

func (w *LogrusWriter) WriteEvent(event *AuditEvent) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"account_id": event.AccountID,
		"success":    event.Success,
	}
	if event.FileID != "" {
		fields["file_id"] = event.FileID
	}
	if event.Algorithm != "" {
		fields["algorithm"] = event.Algorithm
	}
	if event.SecondaryProtected {
		fields["secondary_protected"] = true
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.EventType == EventTypeKeyRotation {
		fields["files_rewrapped"] = event.FilesRewrapped
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}

	entry := w.logger.WithFields(fields)
	if event.Error != "" {
		entry.WithField("error", event.Error).Warn("Audit event")
		return nil
	}
	entry.Info("Audit event")
	return nil
}
