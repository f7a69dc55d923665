package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value as printed by the backend ("1234.56 EUR").
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// ParseAmount parses "<value> <currency>". The currency is optional; a
// decimal comma is accepted.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return Amount{}, &ErrValidation{Field: "amount", Message: fmt.Sprintf("cannot parse %q", s)}
	}

	raw := fields[0]
	if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return Amount{}, &ErrValidation{Field: "amount", Message: fmt.Sprintf("cannot parse %q: %v", s, err)}
	}

	a := Amount{Value: v}
	if len(fields) == 2 {
		a.Currency = strings.ToUpper(fields[1])
	}
	return a, nil
}

func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.StringFixed(2)
	}
	return a.Value.StringFixed(2) + " " + a.Currency
}

// NetTurnover sums the values of statements. All values must share one
// currency.
func NetTurnover(statements []Statement) (Amount, error) {
	var total Amount
	for i := range statements {
		a, err := statements[i].ValueAmount()
		if err != nil {
			return Amount{}, err
		}
		switch {
		case total.Currency == "":
			total.Currency = a.Currency
		case a.Currency != "" && a.Currency != total.Currency:
			return Amount{}, &ErrValidation{
				Field:   "currency",
				Message: fmt.Sprintf("mixed currencies %s and %s", total.Currency, a.Currency),
			}
		}
		total.Value = total.Value.Add(a.Value)
	}
	return total, nil
}
