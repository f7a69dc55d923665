// Package domain defines the entities of an HBCI session: accounts,
// statements, callback reasons and the errors the backends report.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================
// Callback reasons
// ============================================================

// Reason identifies why the banking backend asks the client for input.
// The numeric values are the ones the backend puts on the wire.
type Reason int64

const (
	ReasonNeedChipcard       Reason = 2
	ReasonNeedHardPIN        Reason = 3
	ReasonNeedSoftPIN        Reason = 4
	ReasonHaveHardPIN        Reason = 5
	ReasonHaveChipcard       Reason = 6
	ReasonNeedCountry        Reason = 7
	ReasonNeedBLZ            Reason = 8
	ReasonNeedHost           Reason = 9
	ReasonNeedPort           Reason = 10
	ReasonNeedUserID         Reason = 11
	ReasonNeedNewInstKeysAck Reason = 12
	ReasonHaveNewMyKeys      Reason = 13
	ReasonHaveInstMsg        Reason = 14
	ReasonNeedRemoveChipcard Reason = 15
	ReasonNeedPTPIN          Reason = 16
	ReasonNeedPTTAN          Reason = 17
	ReasonNeedCustomerID     Reason = 18
	ReasonHaveCRCError       Reason = 19
	ReasonHaveError          Reason = 20
	ReasonNeedPassphraseLoad Reason = 21
	ReasonNeedPassphraseSave Reason = 22
	ReasonNeedSizEntrySelect Reason = 23
	ReasonNeedConnection     Reason = 24
	ReasonCloseConnection    Reason = 25
	ReasonNeedFilter         Reason = 26
	ReasonNeedPTSecMech      Reason = 27
	ReasonNeedProxyUser      Reason = 28
	ReasonNeedProxyPass      Reason = 29
	ReasonHaveIBANError      Reason = 30
	ReasonNeedInfoPointAck   Reason = 31
	ReasonNeedPTTANMedia     Reason = 32
	ReasonWrongPIN           Reason = 40
	ReasonUserIDChanged      Reason = 41
)

var reasonNames = map[Reason]string{
	ReasonNeedChipcard:       "NEED_CHIPCARD",
	ReasonNeedHardPIN:        "NEED_HARDPIN",
	ReasonNeedSoftPIN:        "NEED_SOFTPIN",
	ReasonHaveHardPIN:        "HAVE_HARDPIN",
	ReasonHaveChipcard:       "HAVE_CHIPCARD",
	ReasonNeedCountry:        "NEED_COUNTRY",
	ReasonNeedBLZ:            "NEED_BLZ",
	ReasonNeedHost:           "NEED_HOST",
	ReasonNeedPort:           "NEED_PORT",
	ReasonNeedUserID:         "NEED_USERID",
	ReasonNeedNewInstKeysAck: "NEED_NEW_INST_KEYS_ACK",
	ReasonHaveNewMyKeys:      "HAVE_NEW_MY_KEYS",
	ReasonHaveInstMsg:        "HAVE_INST_MSG",
	ReasonNeedRemoveChipcard: "NEED_REMOVE_CHIPCARD",
	ReasonNeedPTPIN:          "NEED_PT_PIN",
	ReasonNeedPTTAN:          "NEED_PT_TAN",
	ReasonNeedCustomerID:     "NEED_CUSTOMERID",
	ReasonHaveCRCError:       "HAVE_CRC_ERROR",
	ReasonHaveError:          "HAVE_ERROR",
	ReasonNeedPassphraseLoad: "NEED_PASSPHRASE_LOAD",
	ReasonNeedPassphraseSave: "NEED_PASSPHRASE_SAVE",
	ReasonNeedSizEntrySelect: "NEED_SIZENTRY_SELECT",
	ReasonNeedConnection:     "NEED_CONNECTION",
	ReasonCloseConnection:    "CLOSE_CONNECTION",
	ReasonNeedFilter:         "NEED_FILTER",
	ReasonNeedPTSecMech:      "NEED_PT_SECMECH",
	ReasonNeedProxyUser:      "NEED_PROXY_USER",
	ReasonNeedProxyPass:      "NEED_PROXY_PASS",
	ReasonHaveIBANError:      "HAVE_IBAN_ERROR",
	ReasonNeedInfoPointAck:   "NEED_INFOPOINT_ACK",
	ReasonNeedPTTANMedia:     "NEED_PT_TANMEDIA",
	ReasonWrongPIN:           "WRONG_PIN",
	ReasonUserIDChanged:      "USERID_CHANGED",
}

// AllReasons returns every reason the backend is known to emit, in wire order.
func AllReasons() []Reason {
	out := make([]Reason, 0, len(reasonNames))
	for r := ReasonNeedChipcard; r <= ReasonUserIDChanged; r++ {
		if _, ok := reasonNames[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Known reports whether r is part of the enumeration.
func (r Reason) Known() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REASON(%d)", int64(r))
}

// IsSecret reports whether answers to r must never be logged.
func (r Reason) IsSecret() bool {
	switch r {
	case ReasonNeedPTPIN, ReasonNeedPTTAN, ReasonNeedPassphraseLoad, ReasonNeedPassphraseSave,
		ReasonNeedSoftPIN, ReasonNeedHardPIN, ReasonNeedProxyPass:
		return true
	}
	return false
}

// ParseReason resolves a reason by name ("NEED_BLZ") or by its numeric code ("8").
func ParseReason(s string) (Reason, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	for r, name := range reasonNames {
		if name == s {
			return r, nil
		}
	}
	if code, err := strconv.ParseInt(s, 10, 64); err == nil && Reason(code).Known() {
		return Reason(code), nil
	}
	return 0, &ErrValidation{Field: "reason", Message: fmt.Sprintf("unknown callback reason %q", s)}
}

// ============================================================
// Log levels
// ============================================================

// LogLevel is the severity attached to backend log events.
type LogLevel int64

const (
	LogLevelError  LogLevel = 1
	LogLevelWarn   LogLevel = 2
	LogLevelInfo   LogLevel = 3
	LogLevelDebug  LogLevel = 4
	LogLevelDebug2 LogLevel = 5
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelDebug2:
		return "DEBUG2"
	}
	return fmt.Sprintf("LEVEL(%d)", int64(l))
}
