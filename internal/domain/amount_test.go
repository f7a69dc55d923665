package domain_test

import (
	"errors"
	"testing"

	"github.com/boddenberg/hbci-session-go/internal/domain"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in       string
		value    string
		currency string
	}{
		{"1234.56 EUR", "1234.56", "EUR"},
		{"-12.5 eur", "-12.5", "EUR"},
		{"7,10 EUR", "7.1", "EUR"},
		{"42", "42", ""},
	}

	for _, tc := range cases {
		a, err := domain.ParseAmount(tc.in)
		if err != nil {
			t.Errorf("ParseAmount(%q): unexpected error %v", tc.in, err)
			continue
		}
		if !a.Value.Equal(decimal.RequireFromString(tc.value)) {
			t.Errorf("ParseAmount(%q): value %s, want %s", tc.in, a.Value, tc.value)
		}
		if a.Currency != tc.currency {
			t.Errorf("ParseAmount(%q): currency %s, want %s", tc.in, a.Currency, tc.currency)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "EUR", "1 2 3", "abc EUR"} {
		if _, err := domain.ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q): expected error", in)
		}
	}
}

func TestAmount_String(t *testing.T) {
	a := domain.Amount{Value: decimal.RequireFromString("-3.5"), Currency: "EUR"}
	if a.String() != "-3.50 EUR" {
		t.Errorf("expected '-3.50 EUR', got '%s'", a.String())
	}
}

func TestNetTurnover(t *testing.T) {
	statements := []domain.Statement{
		{Value: "2850.00 EUR"},
		{Value: "-950.00 EUR"},
		{Value: "-800,50 EUR"},
	}

	total, err := domain.NetTurnover(statements)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total.String() != "1099.50 EUR" {
		t.Errorf("expected 1099.50 EUR, got %s", total)
	}

	empty, err := domain.NetTurnover(nil)
	if err != nil || empty.String() != "0.00" {
		t.Errorf("expected zero for no statements, got %s / %v", empty, err)
	}
}

func TestNetTurnover_MixedCurrencies(t *testing.T) {
	_, err := domain.NetTurnover([]domain.Statement{{Value: "1.00 EUR"}, {Value: "1.00 USD"}})

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
