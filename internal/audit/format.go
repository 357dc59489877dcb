package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.ExpenseID
	if label == "" {
		label = "all expenses"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Expense: %s | No entries found.\n", label)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Expense: %s | %s to %s UTC\n", label,
		reformat(result.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		reformat(result.Summary.LastTimestamp, "2006-01-02 15:04:05"))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		outcome := strings.ToUpper(e.Decision)
		if outcome == "" {
			outcome = strings.ToUpper(e.Status)
		}
		line := fmt.Sprintf("%-10s %-13s %-16s %-10s %s",
			reformat(e.Timestamp, "15:04:05"),
			e.Event,
			truncate(e.Actor, 16),
			outcome,
			truncate(e.Reason, 40))
		if e.Slot > 0 {
			line += fmt.Sprintf("  [slot %d]", e.Slot)
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

// FormatEntry renders one entry on a single line, for audit tail.
func FormatEntry(e AuditEntry) string {
	s := fmt.Sprintf("%s  %-36s  %-13s  %-16s  %s", e.Timestamp, e.ExpenseID, e.Event, e.Actor, e.Status)
	if e.Decision != "" {
		s += " (" + e.Decision + ")"
	}
	return s
}

func reformat(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func formatSummary(s ReplaySummary) string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(s.Submitted, "submitted")
	add(s.Approvals, "approved")
	add(s.Rejections, "rejected")
	add(s.Escalations, "escalated")
	add(s.Overrides, "override")

	status := s.FinalStatus
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("Summary: %s | Status: %s\n", strings.Join(parts, ", "), status)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
