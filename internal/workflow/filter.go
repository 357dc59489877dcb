package workflow

import (
	"strings"

	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/store"
)

// FilterParams is the string form of a list query, as it arrives from a
// transport. Empty fields do not filter.
type FilterParams struct {
	Status      string
	SubmitterID string
	Category    string
	From        string
	To          string
	Limit       int
}

// ParseFilter validates p and builds a store filter. A plain date in To
// covers that whole day.
func ParseFilter(p FilterParams) (store.Filter, error) {
	f := store.Filter{
		SubmitterID: strings.TrimSpace(p.SubmitterID),
		Category:    strings.TrimSpace(p.Category),
		Limit:       p.Limit,
	}
	if p.Limit < 0 {
		return f, model.Errorf(model.KindValidation, "limit must not be negative")
	}
	for _, s := range strings.Split(p.Status, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		st, ok := model.ParseStatus(s)
		if !ok {
			return f, model.Errorf(model.KindValidation, "unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	from, err := ParseDate(p.From)
	if err != nil {
		return f, err
	}
	to, err := ParseDate(p.To)
	if err != nil {
		return f, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return f, model.Errorf(model.KindValidation, "date range ends before it starts")
	}
	f.From = from
	f.To = endOfDay(to)
	return f, nil
}
