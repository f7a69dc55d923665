package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/observability"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrCallback(domain.ReasonNeedBLZ, true)
	m.IncrCallback(domain.ReasonNeedPTPIN, true)
	m.IncrCallback(domain.ReasonNeedChipcard, false)
	m.IncrLogEvent(domain.LogLevelInfo)
	m.IncrLogEvent(domain.LogLevelInfo)
	m.IncrLogEvent(domain.LogLevelError)
	m.IncrExternalError("hbci-gateway")
	m.RecordOperationDuration("get_balances", 1500*time.Millisecond)

	s := m.Snapshot()

	if s.Callbacks != 3 || s.Answered != 2 || s.Declined != 1 {
		t.Errorf("unexpected callback counts %+v", s)
	}
	if s.LogEvents["INFO"] != 2 || s.LogEvents["ERROR"] != 1 {
		t.Errorf("unexpected log events %v", s.LogEvents)
	}
	if s.ExternalErrors != 1 {
		t.Errorf("expected 1 external error, got %d", s.ExternalErrors)
	}
	if got := s.OperationSecs["get_balances"]; got < 1.49 || got > 1.51 {
		t.Errorf("expected 1.5s for get_balances, got %f", got)
	}
}

func TestMetrics_SnapshotEmpty(t *testing.T) {
	s := observability.NewMetrics().Snapshot()
	if s.Callbacks != 0 || len(s.LogEvents) != 0 {
		t.Errorf("expected empty snapshot, got %+v", s)
	}
}

func TestZapLevel(t *testing.T) {
	cases := map[domain.LogLevel]zapcore.Level{
		domain.LogLevelError:  zapcore.ErrorLevel,
		domain.LogLevelWarn:   zapcore.WarnLevel,
		domain.LogLevelInfo:   zapcore.InfoLevel,
		domain.LogLevelDebug:  zapcore.DebugLevel,
		domain.LogLevelDebug2: zapcore.DebugLevel,
	}
	for in, want := range cases {
		if got := observability.ZapLevel(in); got != want {
			t.Errorf("ZapLevel(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestInitTracer_EmptyEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer("", "hbci-session")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}
