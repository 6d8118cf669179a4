package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestAuditLogger_LogFile(t *testing.T) {
	logger := NewLogger(100, nil)

	logger.LogFile(EventTypeSeal, "alice", "file-1", "AES256-GCM", true, nil, 100*time.Millisecond)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.EventType != EventTypeSeal {
		t.Fatalf("expected event type %s, got %s", EventTypeSeal, event.EventType)
	}
	if event.AccountID != "alice" || event.FileID != "file-1" {
		t.Fatalf("unexpected identifiers: %s/%s", event.AccountID, event.FileID)
	}
	if !event.SecondaryProtected {
		t.Fatal("expected secondary_protected to be recorded")
	}
	if !event.Success {
		t.Fatal("expected success to be true")
	}
}

func TestAuditLogger_LogSession(t *testing.T) {
	logger := NewLogger(100, nil)

	logger.LogSession(EventTypeLock, "alice", "idle_timeout", nil)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Reason != "idle_timeout" {
		t.Fatalf("expected reason idle_timeout, got %s", events[0].Reason)
	}
}

func TestAuditLogger_LogKeyRotation(t *testing.T) {
	logger := NewLogger(100, nil)

	logger.LogKeyRotation("alice", 3, nil, time.Second)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.EventType != EventTypeKeyRotation {
		t.Fatalf("expected event type %s, got %s", EventTypeKeyRotation, event.EventType)
	}
	if event.FilesRewrapped != 3 {
		t.Fatalf("expected 3 files rewrapped, got %d", event.FilesRewrapped)
	}
}

func TestAuditLogger_MaxEvents(t *testing.T) {
	logger := NewLogger(5, nil)

	for i := 0; i < 10; i++ {
		logger.LogFile(EventTypeOpen, "alice", "file", "AES256-GCM", false, nil, time.Millisecond)
	}

	events := logger.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events (max), got %d", len(events))
	}
}

func TestAuditLogger_LogError(t *testing.T) {
	logger := NewLogger(100, nil)

	logger.LogFile(EventTypeOpen, "alice", "file", "AES256-GCM", false, errors.New("crypto: unable to decrypt file"), time.Millisecond)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Success {
		t.Fatal("expected success to be false")
	}
	if event.Error != "crypto: unable to decrypt file" {
		t.Fatalf("unexpected error: %s", event.Error)
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(10, NewJSONWriter(&buf))

	logger.LogFile(EventTypeDelete, "alice", "file-9", "", false, nil, 0)
	logger.LogSession(EventTypeUnlock, "alice", "", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if decoded.FileID != "file-9" || decoded.EventType != EventTypeDelete {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestLogrusWriter(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLogger(10, NewLogrusWriter(base))

	logger.LogFile(EventTypeOpen, "alice", "file-1", "AES256-GCM", false, nil, 5*time.Millisecond)
	logger.LogKeyRotation("alice", 0, errors.New("vault: incorrect current password"), time.Millisecond)

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[0].Data["file_id"] != "file-1" {
		t.Fatalf("unexpected first entry: %+v", entries[0].Data)
	}
	if entries[1].Level != logrus.WarnLevel {
		t.Fatalf("failed rotation should log at warn, got %s", entries[1].Level)
	}
	if entries[1].Data["files_rewrapped"] != 0 {
		t.Fatalf("rotation entry missing files_rewrapped: %+v", entries[1].Data)
	}
}
