package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects entries for replay. Zero fields do not filter.
type ReplayFilter struct {
	ExpenseID string
	Actor     string
	From      time.Time
	To        time.Time
}

// ReplaySummary counts what happened to the replayed expense(s).
type ReplaySummary struct {
	Total          int    `json:"total"`
	Submitted      int    `json:"submitted"`
	Approvals      int    `json:"approvals"`
	Rejections     int    `json:"rejections"`
	Escalations    int    `json:"escalations"`
	Overrides      int    `json:"overrides"`
	FinalStatus    string `json:"final_status"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	ExpenseID string        `json:"expense_id"`
	Entries   []AuditEntry  `json:"entries"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{ExpenseID: filter.ExpenseID}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		result.Summary.add(entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) match(e AuditEntry) bool {
	if f.ExpenseID != "" && e.ExpenseID != f.ExpenseID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *ReplaySummary) add(e AuditEntry) {
	s.Total++

	switch e.Event {
	case EventSubmitted:
		s.Submitted++
	case EventEscalated:
		s.Escalations++
	case EventOverridden:
		s.Overrides++
	}
	// A resolved entry repeats the deciding approver's verdict unless the
	// system resolved the expense on its own.
	if e.Event == EventDecided || e.Event == EventOverridden || (e.Event == EventResolved && e.Actor == "system") {
		switch e.Decision {
		case "approved":
			s.Approvals++
		case "rejected":
			s.Rejections++
		}
	}

	if e.Status != "" {
		s.FinalStatus = e.Status
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
