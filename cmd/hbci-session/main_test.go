package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func setSimulatorEnv(t *testing.T, pin string) []string {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("HBCI_BACKEND", "simulator")
	t.Setenv("HBCI_SIMULATOR_FIXTURE", "")
	t.Setenv("HBCI_BLZ_FILE", "")
	t.Setenv("HBCI_BLZ", "12030000")
	t.Setenv("HBCI_USERID", "demo")
	t.Setenv("HBCI_CUSTOMERID", "demo")
	t.Setenv("HBCI_HOST", "")
	t.Setenv("HBCI_PORT", "443")
	t.Setenv("HBCI_ACCOUNT_NUMBER", "1234567890")
	t.Setenv("HBCI_PIN", pin)
	t.Setenv("HBCI_SECMECH", "942")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("METRICS_ADDR", "")
	return []string{"-env", filepath.Join(t.TempDir(), "missing.env")}
}

func TestRun_SimulatorSession(t *testing.T) {
	args := setSimulatorEnv(t, "12345")
	var stdout, stderr bytes.Buffer

	if code := run(args, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"1523.17 EUR"`) {
		t.Errorf("expected quoted balance in transcript:\n%s", stdout.String())
	}
}

func TestRun_SessionFailureReturnsExitCode(t *testing.T) {
	args := setSimulatorEnv(t, "00000")
	var stdout, stderr bytes.Buffer

	if code := run(args, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stdout.String(), "event:  WRONG_PIN") {
		t.Errorf("expected WRONG_PIN event in transcript:\n%s", stdout.String())
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	args := setSimulatorEnv(t, "12345")
	t.Setenv("HBCI_ACCOUNT_NUMBER", "")
	var stdout, stderr bytes.Buffer

	if code := run(args, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("expected no transcript, got:\n%s", stdout.String())
	}
}

func TestRun_BankLookup(t *testing.T) {
	args := setSimulatorEnv(t, "12345")
	var stdout, stderr bytes.Buffer

	if code := run(append(args, "-bank", "12030000"), &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[0] != "Deutsche Kreditbank Berlin" || !strings.HasPrefix(lines[1], "https://") {
		t.Errorf("unexpected lookup output %q", stdout.String())
	}

	stdout.Reset()
	if code := run(append(args, "-bank", "00000000"), &stdout, &stderr); code != 1 {
		t.Errorf("expected exit code 1 for unknown bank, got %d", code)
	}
}
