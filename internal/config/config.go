package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
)

// Backend names accepted by HBCI_BACKEND.
const (
	BackendGateway   = "gateway"
	BackendSimulator = "simulator"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	LogLevel string

	// Banking backend
	Backend           string
	GatewayURL        string
	GatewaySecret     string
	GatewayTokenTTL   time.Duration
	SimulatorFixture  string // empty = embedded fixture
	BankDirectoryFile string // empty = embedded directory

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Observability
	OTLPEndpoint string // empty disables tracing export
	MetricsAddr  string // empty disables the ops server

	credentials Credentials
}

// Credentials is the bundle the answer handler draws from. It is a value
// type: copies handed to the session cannot be changed behind its back.
type Credentials struct {
	BLZ           string
	UserID        string
	CustomerID    string
	Host          string
	Port          string
	AccountNumber string
	PIN           string
	SecMech       string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Backend:           strings.ToLower(getEnv("HBCI_BACKEND", BackendGateway)),
		GatewayURL:        getEnv("HBCI_GATEWAY_URL", "http://localhost:8095"),
		GatewaySecret:     getEnv("HBCI_GATEWAY_SECRET", "hbci-gateway-dev-secret-change-me"),
		GatewayTokenTTL:   getEnvDuration("HBCI_GATEWAY_TOKEN_TTL", 5*time.Minute),
		SimulatorFixture:  getEnv("HBCI_SIMULATOR_FIXTURE", ""),
		BankDirectoryFile: getEnv("HBCI_BLZ_FILE", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 60*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsAddr:  getEnv("METRICS_ADDR", ""),

		credentials: Credentials{
			BLZ:           getEnv("HBCI_BLZ", ""),
			UserID:        getEnv("HBCI_USERID", ""),
			CustomerID:    getEnv("HBCI_CUSTOMERID", ""),
			Host:          getEnv("HBCI_HOST", ""),
			Port:          getEnv("HBCI_PORT", "443"),
			AccountNumber: getEnv("HBCI_ACCOUNT_NUMBER", ""),
			PIN:           getEnv("HBCI_PIN", ""),
			SecMech:       getEnv("HBCI_SECMECH", ""),
		},
	}
}

// Credentials returns a copy of the credential bundle.
func (c *Config) Credentials() Credentials {
	return c.credentials
}

// Validate reports the first missing setting the session cannot run without.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGateway:
		if c.GatewayURL == "" {
			return &domain.ErrValidation{Field: "HBCI_GATEWAY_URL", Message: "required for the gateway backend"}
		}
	case BackendSimulator:
	default:
		return &domain.ErrValidation{Field: "HBCI_BACKEND", Message: "must be 'gateway' or 'simulator'"}
	}

	required := []struct {
		key   string
		value string
	}{
		{"HBCI_BLZ", c.credentials.BLZ},
		{"HBCI_USERID", c.credentials.UserID},
		{"HBCI_ACCOUNT_NUMBER", c.credentials.AccountNumber},
	}
	for _, r := range required {
		if r.value == "" {
			return &domain.ErrValidation{Field: r.key, Message: "must be set"}
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
