package audit

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var base = time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)

// writeTestLog creates a temp audit log with a known expense lifecycle.
func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	at := func(sec int) string { return base.Add(time.Duration(sec) * time.Second).Format(TimestampFormat) }
	entries := []AuditEntry{
		{Timestamp: at(0), ExpenseID: "e-aaa", Event: EventSubmitted, Actor: "emp", Status: "pending", Rule: "standard"},
		{Timestamp: at(2), ExpenseID: "e-bbb", Event: EventSubmitted, Actor: "emp", Status: "pending", Rule: "high-value"},
		{Timestamp: at(4), ExpenseID: "e-aaa", Event: EventDecided, Actor: "mgr", Decision: "approved", Status: "pending", Slot: 1},
		{Timestamp: at(6), ExpenseID: "e-aaa", Event: EventEscalated, Actor: "system", Status: "escalated"},
		{Timestamp: at(8), ExpenseID: "e-aaa", Event: EventDecided, Actor: "fin", Decision: "approved", Status: "approved", Slot: 2},
		{Timestamp: at(10), ExpenseID: "e-bbb", Event: EventOverridden, Actor: "admin", Decision: "rejected", Status: "rejected", Reason: "duplicate receipt"},
	}
	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayFiltersByExpense(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{ExpenseID: "e-aaa"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(result.Entries))
	}
	s := result.Summary
	if s.Submitted != 1 || s.Approvals != 2 || s.Escalations != 1 || s.FinalStatus != "approved" {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestReplayAllAndActor(t *testing.T) {
	path := writeTestLog(t)

	all, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Summary.Total != 6 {
		t.Errorf("expected 6 entries, got %d", all.Summary.Total)
	}

	admin, _ := Replay(path, ReplayFilter{Actor: "admin"})
	if len(admin.Entries) != 1 || admin.Summary.Overrides != 1 || admin.Summary.Rejections != 1 {
		t.Errorf("unexpected admin replay %+v", admin.Summary)
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{
		ExpenseID: "e-aaa",
		From:      base.Add(3 * time.Second),
		To:        base.Add(7 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries in range, got %d", len(result.Entries))
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "none.jsonl"), ReplayFilter{}); err == nil {
		t.Fatal("expected error for missing log")
	}
}

func TestFormatTimeline(t *testing.T) {
	path := writeTestLog(t)
	result, _ := Replay(path, ReplayFilter{ExpenseID: "e-aaa"})

	out := FormatTimeline(result)
	for _, want := range []string{"Expense: e-aaa", "[slot 2]", "APPROVED", "ESCALATED", "Summary: 1 submitted, 2 approved, 1 escalated | Status: approved"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	out := FormatTimeline(&ReplayResult{ExpenseID: "e-none"})
	if !strings.Contains(out, "No entries found") {
		t.Errorf("expected empty message, got %q", out)
	}
}

func TestFormatJSONRoundTrip(t *testing.T) {
	path := writeTestLog(t)
	result, _ := Replay(path, ReplayFilter{ExpenseID: "e-bbb"})

	s, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	var parsed ReplayResult
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		t.Fatalf("JSON output not valid: %v", err)
	}
	if parsed.Summary.FinalStatus != "rejected" || len(parsed.Entries) != 2 {
		t.Errorf("unexpected %+v", parsed.Summary)
	}
}
