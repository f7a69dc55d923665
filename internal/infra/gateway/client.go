// Package gateway implements port.BankingContext on top of an HTTP/JSON
// HBCI gateway, a service hosting the real HBCI library. Callbacks raised
// by the library travel back to this process as interaction envelopes
// and are answered through the connected signal handlers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/resilience"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ServiceName labels gateway errors and metrics.
const ServiceName = "hbci-gateway"

var tracer = otel.Tracer("gateway")

// Client performs authenticated round-trips to the gateway with retry,
// circuit breaker and tracing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     *TokenSigner
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a gateway client.
func NewClient(httpClient *http.Client, baseURL string, signer *TokenSigner, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		signer:     signer,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// Post sends body to path on behalf of blz/userID and decodes the
// envelope. One request id is used for all retries of the same call so
// the gateway can drop duplicates.
func (c *Client) Post(ctx context.Context, path, blz, userID string, body any) (*Envelope, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Post")
	defer span.End()

	requestID := uuid.NewString()
	span.SetAttributes(
		attribute.String("gateway.path", path),
		attribute.String("hbci.blz", blz),
		attribute.String("request.id", requestID),
	)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}

	result, err := c.cb.Execute(func() (any, error) {
		var env *Envelope
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var err error
			env, err = c.doRequest(ctx, path, blz, userID, requestID, payload)
			return err
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return env, nil
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &domain.ErrCircuitOpen{Service: ServiceName}
		}
		return nil, &domain.ErrExternalService{Service: ServiceName, Err: err}
	}

	env := result.(*Envelope)
	span.SetAttributes(attribute.String("gateway.state", env.State))
	return env, nil
}

func (c *Client) doRequest(ctx context.Context, path, blz, userID, requestID string, payload []byte) (*Envelope, error) {
	token, err := c.signer.Token(blz, userID)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("gateway: request failed",
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resilience.Permanent(&domain.ErrUnauthorized{Message: "gateway rejected service token"})
	case resp.StatusCode >= 500:
		c.logger.Warn("gateway: server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resilience.Permanent(fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body)))
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode gateway envelope: %w", err))
	}

	c.logger.Debug("gateway: request OK",
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.String("state", env.State),
	)
	return &env, nil
}
