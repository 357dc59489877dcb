package currency

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/model"
)

// Table maps an ISO currency code to the number of units of that currency
// per one unit of the base currency.
type Table map[string]decimal.Decimal

var isoCode = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidCode reports whether code looks like an ISO 4217 code.
func ValidCode(code string) bool {
	return isoCode.MatchString(code)
}

// Normalize upper-cases and trims a currency code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Normalizer converts amounts into Base.
type Normalizer struct {
	Base string
}

// Normalize converts amount from the given currency into the base currency.
// Results are rounded to two decimal places.
func (n Normalizer) Normalize(amount decimal.Decimal, from string, table Table) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.Errorf(model.KindValidation, "amount %s must be positive", amount.String())
	}
	from = Normalize(from)
	if from == Normalize(n.Base) {
		return amount, nil
	}
	rate, ok := table[from]
	if !ok {
		return decimal.Zero, model.Errorf(model.KindRateUnavailable, "no rate for %s against %s", from, n.Base)
	}
	if !rate.IsPositive() {
		return decimal.Zero, model.Errorf(model.KindRateUnavailable, "invalid rate %s for %s", rate.String(), from)
	}
	return amount.Div(rate).Round(2), nil
}

// ToBase converts an amount expressed in code into base units without
// validating sign. Used for converting rule thresholds.
func (n Normalizer) ToBase(amount decimal.Decimal, code string, table Table) (decimal.Decimal, bool) {
	code = Normalize(code)
	if code == "" || code == Normalize(n.Base) {
		return amount, true
	}
	rate, ok := table[code]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return amount.Div(rate).Round(2), true
}
