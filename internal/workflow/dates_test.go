package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/spendgate/internal/model"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2026-03-02", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{"2026-03-02T10:30:00+02:00", time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}

	if _, err := ParseDate("02/03/2026"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected Validation, got %v", err)
	}
}

func TestEndOfDay(t *testing.T) {
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := endOfDay(midnight); got.Day() != 2 || got.Hour() != 23 {
		t.Fatalf("expected end of day, got %v", got)
	}
	noon := midnight.Add(12 * time.Hour)
	if got := endOfDay(noon); !got.Equal(noon) {
		t.Fatalf("explicit times are kept, got %v", got)
	}
}

func TestKeyedMutexReleases(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	if k.size() != 1 {
		t.Fatalf("expected 1 entry, got %d", k.size())
	}
	unlock()
	if k.size() != 0 {
		t.Fatalf("expected entry dropped, got %d", k.size())
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(FilterParams{
		Status:      "pending, escalated",
		SubmitterID: " emp ",
		From:        "2026-03-01",
		To:          "2026-03-31",
		Limit:       5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Statuses) != 2 || f.Statuses[1] != model.StatusEscalated {
		t.Errorf("unexpected statuses %v", f.Statuses)
	}
	if f.SubmitterID != "emp" || f.Limit != 5 {
		t.Errorf("unexpected filter %+v", f)
	}
	if want := time.Date(2026, 3, 31, 23, 59, 59, 999999999, time.UTC); !f.To.Equal(want) {
		t.Errorf("expected To to cover the whole day, got %v", f.To)
	}

	if f, err := ParseFilter(FilterParams{}); err != nil || !f.From.IsZero() || !f.To.IsZero() || f.Statuses != nil {
		t.Errorf("empty params should not filter, got %+v %v", f, err)
	}

	bad := []FilterParams{
		{Status: "archived"},
		{Limit: -1},
		{From: "2026-04-02", To: "2026-04-01"},
		{From: "yesterday"},
	}
	for _, p := range bad {
		if _, err := ParseFilter(p); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", p, err)
		}
	}
}
