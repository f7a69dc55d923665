package simulator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/boddenberg/hbci-session-go/internal/domain"

	"golang.org/x/crypto/bcrypt"
)

//go:embed fixture.json
var embeddedFixture []byte

// Fixture describes the simulated bank and the one user it knows.
type Fixture struct {
	Bank     BankFixture      `json:"bank"`
	User     UserFixture      `json:"user"`
	Accounts []AccountFixture `json:"accounts"`
}

// BankFixture holds the connection details the handshake expects.
type BankFixture struct {
	Country  string       `json:"country"`
	BLZ      string       `json:"blz"`
	Host     string       `json:"host"`
	Port     string       `json:"port"`
	SecMechs []SecMechDTO `json:"sec_mechs"`
}

// SecMechDTO is one offered PIN/TAN security mechanism.
type SecMechDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// UserFixture holds the expected credentials. Either PIN or PINHash must
// be set; a plain PIN is hashed on load and then dropped.
type UserFixture struct {
	UserID     string `json:"user_id"`
	CustomerID string `json:"customer_id"`
	PIN        string `json:"pin,omitempty"`
	PINHash    string `json:"pin_hash,omitempty"`
}

// AccountFixture is an account with its balance and turnover lines.
// Callbacks are asked during every job on the account.
type AccountFixture struct {
	Account    domain.Account       `json:"account"`
	Balance    string               `json:"balance"`
	Statements []domain.TurnoverLine `json:"statements"`
	Callbacks  []CallbackFixture     `json:"callbacks,omitempty"`
}

// CallbackFixture is an extra question the bank asks during a job. Reason
// is a reason name such as "HAVE_INST_MSG" or its numeric code.
type CallbackFixture struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`

	reason domain.Reason
}

// DefaultFixture returns the embedded demo fixture.
func DefaultFixture() (*Fixture, error) {
	return ParseFixture(bytes.NewReader(embeddedFixture))
}

// OpenFixture reads a fixture file. An empty path selects the embedded one.
func OpenFixture(path string) (*Fixture, error) {
	if path == "" {
		return DefaultFixture()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open simulator fixture: %w", err)
	}
	defer f.Close()
	return ParseFixture(f)
}

// ParseFixture decodes and validates a fixture.
func ParseFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode simulator fixture: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	if err := fx.hashPIN(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixture) validate() error {
	switch {
	case fx.Bank.BLZ == "":
		return &domain.ErrValidation{Field: "bank.blz", Message: "must be set"}
	case fx.User.UserID == "":
		return &domain.ErrValidation{Field: "user.user_id", Message: "must be set"}
	case fx.User.PIN == "" && fx.User.PINHash == "":
		return &domain.ErrValidation{Field: "user.pin", Message: "pin or pin_hash must be set"}
	case len(fx.Bank.SecMechs) == 0:
		return &domain.ErrValidation{Field: "bank.sec_mechs", Message: "at least one mechanism must be offered"}
	}
	if fx.Bank.Country == "" {
		fx.Bank.Country = "DE"
	}
	if fx.Bank.Port == "" {
		fx.Bank.Port = "443"
	}
	if fx.User.CustomerID == "" {
		fx.User.CustomerID = fx.User.UserID
	}

	for i, a := range fx.Accounts {
		if a.Account.Number == "" {
			return &domain.ErrValidation{Field: fmt.Sprintf("accounts[%d].number", i), Message: "must be set"}
		}
		if a.Account.BLZ == "" {
			fx.Accounts[i].Account.BLZ = fx.Bank.BLZ
		}
		if _, err := domain.ParseAmount(a.Balance); err != nil {
			return &domain.ErrValidation{Field: fmt.Sprintf("accounts[%d].balance", i), Message: err.Error()}
		}
		for j, l := range a.Statements {
			field := fmt.Sprintf("accounts[%d].statements[%d]", i, j)
			if _, err := l.Statement(); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			for _, amount := range []string{l.Value, l.Saldo} {
				if _, err := domain.ParseAmount(amount); err != nil {
					return &domain.ErrValidation{Field: field, Message: err.Error()}
				}
			}
		}
		for j, cb := range a.Callbacks {
			reason, err := domain.ParseReason(cb.Reason)
			if err != nil {
				return &domain.ErrValidation{Field: fmt.Sprintf("accounts[%d].callbacks[%d]", i, j), Message: err.Error()}
			}
			fx.Accounts[i].Callbacks[j].reason = reason
		}
	}
	return nil
}

func (fx *Fixture) hashPIN() error {
	if fx.User.PINHash != "" {
		fx.User.PIN = ""
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(fx.User.PIN), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash fixture pin: %w", err)
	}
	fx.User.PINHash = string(hash)
	fx.User.PIN = ""
	return nil
}

// OfferedSecMechs renders the mechanisms the way the backend passes them
// with a NEED_PT_SECMECH callback: "900:iTAN|942:mobileTAN".
func (b BankFixture) OfferedSecMechs() string {
	parts := make([]string, len(b.SecMechs))
	for i, m := range b.SecMechs {
		parts[i] = m.Code + ":" + m.Name
	}
	return strings.Join(parts, "|")
}

func (b BankFixture) offers(code string) bool {
	for _, m := range b.SecMechs {
		if m.Code == code {
			return true
		}
	}
	return false
}
