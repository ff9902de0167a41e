package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	l := NewLogger(path)
	l.nowFunc = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }

	if err := l.Log("session.establish", OutcomeSuccess, 0, ""); err != nil {
		t.Fatalf("Log() error: %v", err)
	}
	if err := l.Log("view.load", OutcomePartial, 4, "failed=projects"); err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode audit line: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "session.establish" || events[0].At != "2026-10-19T08:00:00Z" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Cycle != 4 || events[1].Outcome != OutcomePartial || events[1].Detail != "failed=projects" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	if err := l.Log("view.load", OutcomeSuccess, 1, ""); err != nil {
		t.Fatalf("nil Log() error: %v", err)
	}
	if err := NewLogger("").Log("view.load", OutcomeSuccess, 1, ""); err != nil {
		t.Fatalf("empty-path Log() error: %v", err)
	}
}
