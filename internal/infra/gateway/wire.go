package gateway

import (
	"encoding/json"

	"github.com/boddenberg/hbci-session-go/internal/domain"
)

// Job names understood by the gateway. They are the backend's own job
// identifiers.
const (
	JobAccounts   = "Accounts"
	JobBalance    = "SaldoReq"
	JobStatements = "KUmsAll"
)

// Interaction states reported in an Envelope.
const (
	StateCallback = "callback"
	StateDone     = "done"
	StateFailed   = "failed"
)

// PassportRequest is the body of POST /v1/passports.
type PassportRequest struct {
	BLZ          string            `json:"blz"`
	UserID       string            `json:"user_id"`
	HBCIVersion  string            `json:"hbci_version"`
	PassportType string            `json:"passport_type"`
	Params       map[string]string `json:"params"`
}

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	BLZ    string            `json:"blz"`
	UserID string            `json:"user_id"`
	Job    string            `json:"job"`
	Params map[string]string `json:"params,omitempty"`
}

// AnswerRequest is the body of POST /v1/jobs/{id}/answers.
type AnswerRequest struct {
	Reason int64  `json:"reason"`
	Value  string `json:"value"`
}

// Envelope is returned by every gateway call. While State is "callback"
// the interaction waits for an answer.
type Envelope struct {
	ID           string          `json:"id"`
	State        string          `json:"state"`
	Callback     *CallbackDTO    `json:"callback,omitempty"`
	Logs         []LogDTO        `json:"logs,omitempty"`
	StatusEvents []StatusDTO     `json:"status_events,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *ErrorDTO       `json:"error,omitempty"`
}

// CallbackDTO is a pending question from the backend.
type CallbackDTO struct {
	Reason   int64  `json:"reason"`
	Message  string `json:"message"`
	Optional string `json:"optional,omitempty"`
}

// LogDTO is one backend log line.
type LogDTO struct {
	Message string `json:"message"`
	Level   int64  `json:"level"`
}

// StatusDTO is one backend status event.
type StatusDTO struct {
	Tag    int64  `json:"tag"`
	Detail string `json:"detail,omitempty"`
}

// ErrorDTO describes a failed interaction. Reason is set when the backend
// gave up on a callback answer.
type ErrorDTO struct {
	Message string `json:"message"`
	Reason  int64  `json:"reason,omitempty"`
}

// PassportResult is the result of a passport registration.
type PassportResult struct {
	OK bool `json:"ok"`
}

// AccountsResult is the result of the Accounts job.
type AccountsResult struct {
	Accounts []domain.Account `json:"accounts"`
}

// BalanceResult is the result of the SaldoReq job.
type BalanceResult struct {
	Balances []BalanceDTO `json:"balances"`
}

// BalanceDTO is one balance entry. Ready is the booked balance; Unready
// includes pending bookings.
type BalanceDTO struct {
	Ready   SaldoDTO  `json:"ready"`
	Unready *SaldoDTO `json:"unready,omitempty"`
}

// SaldoDTO is a printable balance value, e.g. "1234.56 EUR".
type SaldoDTO struct {
	Value     string `json:"value"`
	Timestamp string `json:"timestamp,omitempty"`
}

// StatementsResult is the result of the KUmsAll job.
type StatementsResult struct {
	Lines []domain.TurnoverLine `json:"lines"`
}
