// Package receipt pre-fills expense fields from receipt text.
// Results are advisory: the submitter confirms or edits every field.
package receipt

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/model"
)

// Extraction is the best-effort result of reading a receipt.
type Extraction struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Date        *time.Time       `json:"date,omitempty"`
	Merchant    string           `json:"merchant,omitempty"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Confidence  int              `json:"confidence"`
}

// Extractor reads a receipt image or document.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Extraction, error)
}

// TextExtractor parses receipts that have already been through OCR.
type TextExtractor struct {
	DefaultCurrency string
}

var (
	amountRe = regexp.MustCompile(`(?:[$€£¥]\s?)?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?`)
	isoRe    = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CAD|AUD|CHF|INR|BRL|MXN)\b`)
	totalRe  = regexp.MustCompile(`(?i)\b(grand\s+total|total|amount\s+due|balance\s+due)\b`)

	dateLayouts = []struct {
		re     *regexp.Regexp
		layout string
	}{
		{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "2006-01-02"},
		{regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`), "1/2/2006"},
		{regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{4}\b`), "2.1.2006"},
	}

	symbols = []struct{ sym, code string }{{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"}}

	// Checked in order; first hit wins.
	categoryKeywords = []struct {
		category string
		words    []string
	}{
		{"Meals", []string{"restaurant", "food", "meal", "cafe", "coffee"}},
		{"Accommodation", []string{"hotel", "accommodation", "motel", "lodging"}},
		{"Training", []string{"course", "training", "workshop", "conference"}},
		{"Transportation", []string{"taxi", "uber", "lyft", "transport", "parking", "train"}},
		{"Travel", []string{"airline", "flight", "airport", "travel"}},
		{"Office Supplies", []string{"office", "supplies", "stationery"}},
	}
)

// Extract parses image as UTF-8 text.
func (x TextExtractor) Extract(ctx context.Context, image []byte) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	if len(image) == 0 || !utf8.Valid(image) {
		return Extraction{}, model.Errorf(model.KindValidation, "receipt is not readable text")
	}

	text := string(image)
	var out Extraction
	found := 0

	lines := nonEmptyLines(text)
	if len(lines) > 0 {
		out.Merchant = lines[0]
	}

	if amt, ok := totalAmount(lines); ok {
		out.Amount = &amt
		found++
	}

	out.Currency = detectCurrency(text)
	if out.Currency == "" {
		out.Currency = x.DefaultCurrency
	} else {
		found++
	}

	if d, ok := detectDate(text); ok {
		out.Date = &d
		found++
	}

	out.Category = detectCategory(text)
	if out.Category != "Other" {
		found++
	}
	if out.Merchant != "" {
		out.Description = out.Category + " expense at " + out.Merchant
	}

	out.Confidence = 40 + found*15
	return out, nil
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// totalAmount prefers the amount on a "total" line, else the largest amount seen.
func totalAmount(lines []string) (decimal.Decimal, bool) {
	var all []decimal.Decimal
	for _, l := range lines {
		amounts := parseAmounts(l)
		if len(amounts) == 0 {
			continue
		}
		if totalRe.MatchString(l) {
			return amounts[len(amounts)-1], true
		}
		all = append(all, amounts...)
	}
	if len(all) == 0 {
		return decimal.Zero, false
	}
	sort.Slice(all, func(i, j int) bool { return all[i].GreaterThan(all[j]) })
	return all[0], true
}

func parseAmounts(line string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, m := range amountRe.FindAllStringSubmatch(line, -1) {
		// Bare integers are usually quantities or ids, not money.
		if m[2] == "" && !strings.ContainsAny(m[0], "$€£¥") {
			continue
		}
		s := strings.ReplaceAll(m[1], ",", "")
		if m[2] != "" {
			s += "." + m[2]
		}
		d, err := decimal.NewFromString(s)
		if err == nil && d.IsPositive() {
			out = append(out, d)
		}
	}
	return out
}

func detectCurrency(text string) string {
	if m := isoRe.FindString(strings.ToUpper(text)); m != "" {
		return m
	}
	for _, s := range symbols {
		if strings.Contains(text, s.sym) {
			return s.code
		}
	}
	return ""
}

func detectDate(text string) (time.Time, bool) {
	for _, dl := range dateLayouts {
		if m := dl.re.FindString(text); m != "" {
			if t, err := time.Parse(dl.layout, m); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func detectCategory(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return "Other"
}
