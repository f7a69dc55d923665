package domain

// SessionSummary is logged when a session finishes. Values are cumulative
// counter readings.
type SessionSummary struct {
	SessionID      string             `json:"session_id,omitempty"`
	Callbacks      int64              `json:"callbacks"`
	Answered       int64              `json:"answered"`
	Declined       int64              `json:"declined"`
	LogEvents      map[string]int64   `json:"log_events"`
	ExternalErrors int64              `json:"external_errors"`
	OperationSecs  map[string]float64 `json:"operation_seconds"`
}
