package workflow

import (
	"strings"
	"time"

	"github.com/ppiankov/spendgate/internal/model"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// ParseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, model.Errorf(model.KindValidation, "date %q is not YYYY-MM-DD or RFC 3339", s)
}
