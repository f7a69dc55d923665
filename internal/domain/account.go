package domain

import (
	"fmt"
	"strings"
)

// ============================================================
// Accounts
// ============================================================

// Account is a bank account visible to a registered user (blz + user id).
type Account struct {
	Country     string `json:"country"`
	BLZ         string `json:"blz"`
	Number      string `json:"number"`
	Subnumber   string `json:"subnumber,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	Type        string `json:"type,omitempty"`
	Currency    string `json:"currency,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
	Name        string `json:"name,omitempty"`
	BIC         string `json:"bic,omitempty"`
	IBAN        string `json:"iban,omitempty"`
}

func (a Account) String() string {
	return fmt.Sprintf("<Account %s/%s>", a.BLZ, a.Number)
}

// FormatAccounts renders a list of accounts on one line, the way the
// session transcript prints the result of an account fetch.
func FormatAccounts(accounts []Account) string {
	parts := make([]string, len(accounts))
	for i, a := range accounts {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// PassportKey identifies a registered passport.
func PassportKey(blz, userID string) string {
	return blz + "+" + userID
}

// AccountKey identifies an account of a registered passport.
func AccountKey(blz, userID, number string) string {
	return blz + "+" + userID + "+" + number
}
