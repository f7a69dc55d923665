package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Statements (account turnover lines)
// ============================================================

// usageLineWidth is the fixed width of a usage line in a turnover record.
// Shorter lines mark a word break and get a trailing space.
const usageLineWidth = 27

// Date is a calendar date as delivered by the backend.
type Date struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// NewDate converts t to a Date, dropping the time of day.
func NewDate(t time.Time) Date {
	return Date{Day: t.Day(), Month: int(t.Month()), Year: t.Year()}
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// String renders "day. month. year".
func (d Date) String() string {
	return fmt.Sprintf("%d. %d. %d", d.Day, d.Month, d.Year)
}

// Counterparty is the other side of a turnover line as the backend reports it.
type Counterparty struct {
	Name   string `json:"name"`
	Name2  string `json:"name2"`
	Number string `json:"number"`
	BLZ    string `json:"blz"`
}

// Statement is one booked turnover line of an account.
type Statement struct {
	Valuta          Date   `json:"valuta"`
	BookingDate     Date   `json:"booking_date"`
	Value           string `json:"value"`
	Saldo           string `json:"saldo"`
	GVCode          string `json:"gv_code"`
	Reference       string `json:"reference"`
	OtherName       string `json:"other_name,omitempty"`
	OtherIBAN       string `json:"other_iban,omitempty"`
	OtherBIC        string `json:"other_bic,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`
	EREF            string `json:"eref,omitempty"`
	MREF            string `json:"mref,omitempty"`
	CRED            string `json:"cred,omitempty"`
}

// dateLayout is the wire format of booking dates in raw turnover lines.
const dateLayout = "2006-01-02"

// TurnoverLine is a raw turnover line as the backend reports it.
type TurnoverLine struct {
	Valuta      string        `json:"valuta"`
	BookingDate string        `json:"bdate"`
	Value       string        `json:"value"`
	Saldo       string        `json:"saldo"`
	GVCode      string        `json:"gvcode"`
	Text        string        `json:"text,omitempty"`
	Usage       []string      `json:"usage"`
	Other       *Counterparty `json:"other,omitempty"`
}

// Statement assembles the statement: the usage lines become the
// reference, which is then prettified.
func (l TurnoverLine) Statement() (Statement, error) {
	valuta, err := parseDate("valuta", l.Valuta)
	if err != nil {
		return Statement{}, err
	}
	bdate, err := parseDate("bdate", l.BookingDate)
	if err != nil {
		return Statement{}, err
	}

	st := Statement{
		Valuta:          valuta,
		BookingDate:     bdate,
		Value:           l.Value,
		Saldo:           l.Saldo,
		GVCode:          l.GVCode,
		TransactionType: l.Text,
		Reference:       ReferenceFromUsage(l.Usage),
	}
	st.SetCounterparty(l.Other)
	st.Prettify()
	return st, nil
}

func parseDate(field, s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &ErrValidation{Field: field, Message: "expected YYYY-MM-DD, got " + s}
	}
	return NewDate(t), nil
}

// SetCounterparty fills the Other* fields. The backend stores the IBAN in
// the account number slot and the BIC in the blz slot of SEPA bookings.
func (s *Statement) SetCounterparty(c *Counterparty) {
	if c == nil {
		return
	}
	s.OtherName = c.Name + c.Name2
	s.OtherIBAN = c.Number
	s.OtherBIC = c.BLZ
}

// ValueAmount parses Value.
func (s *Statement) ValueAmount() (Amount, error) {
	return ParseAmount(s.Value)
}

// SaldoAmount parses Saldo.
func (s *Statement) SaldoAmount() (Amount, error) {
	return ParseAmount(s.Saldo)
}

// ReferenceFromUsage joins raw usage lines into a reference text.
func ReferenceFromUsage(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		if len(line) < usageLineWidth {
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RemoveNewlines drops every '\n' from s.
func RemoveNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "")
}

var sepaTags = []string{"EREF+", "MREF+", "CRED+", "SVWZ+"}

// Prettify extracts SEPA fields from the reference and leaves a clean,
// single-line purpose text behind.
//
// Two layouts are recognised: leading "EREF+"/"MREF+"/"CRED+"/"SVWZ+"
// blocks, and trailing "IBAN: x" / "BIC: x" / "EREF: x" / "MREF: x" /
// "CRED: x" word pairs.
func (s *Statement) Prettify() {
	ref := s.Reference

	for len(ref) > 4 && ref[4] == '+' {
		switch {
		case strings.HasPrefix(ref, "EREF+"), strings.HasPrefix(ref, "MREF+"), strings.HasPrefix(ref, "CRED+"):
			end := sepaFieldEnd(ref)
			value := strings.TrimSpace(RemoveNewlines(ref[5:end]))
			switch ref[:4] {
			case "EREF":
				s.EREF = value
			case "MREF":
				s.MREF = value
			case "CRED":
				s.CRED = value
			}
			ref = ref[end:]
			continue
		case strings.HasPrefix(ref, "SVWZ+"):
			// always the last block
			ref = ref[5:]
		}
		break
	}

	words := strings.Split(strings.TrimSpace(RemoveNewlines(ref)), " ")
	i := len(words) - 2
	for i >= 0 {
		value := words[i+1]
		switch words[i] {
		case "BIC:":
			s.OtherBIC = value
		case "IBAN:":
			s.OtherIBAN = value
		case "CRED:":
			s.CRED = value
		case "MREF:":
			s.MREF = value
		case "EREF:":
			s.EREF = value
		default:
			i = -1
			continue
		}
		words = words[:i]
		i -= 2
	}

	s.Reference = strings.Join(words, " ")
}

// sepaFieldEnd returns the offset where the block starting at ref ends: the
// start of the next line carrying a SEPA tag, or the end of ref.
func sepaFieldEnd(ref string) int {
	offset := 0
	for {
		nl := strings.IndexByte(ref[offset:], '\n')
		if nl < 0 {
			return len(ref)
		}
		offset += nl + 1
		for _, tag := range sepaTags {
			if strings.HasPrefix(ref[offset:], tag) {
				return offset
			}
		}
	}
}
