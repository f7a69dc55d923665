package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/cache"
	"github.com/boddenberg/hbci-session-go/internal/infra/resilience"
	"github.com/boddenberg/hbci-session-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	hbciVersion  = "300"
	passportType = "PinTan"

	// maxCallbackRounds bounds a single interaction; a backend that keeps
	// asking after this many answers is not going to finish.
	maxCallbackRounds = 64

	accountTTL = 24 * time.Hour
)

// passportParams are the backend settings every PIN/TAN passport is
// created with.
var passportParams = map[string]string{
	"client.passport.PinTan.filename":  "./passport-file.properties",
	"client.passport.PinTan.checkcert": "1",
	"client.passport.PinTan.init":      "1",
	"log.loglevel.default":             "2",
}

// Context is a banking context whose operations run on the gateway.
// It is meant for sequential use: an operation started while another is
// still running, e.g. from inside a callback handler, fails with
// domain.ErrContextBusy.
type Context struct {
	domain.Signals

	client *Client
	logger *zap.Logger
	busy   *resilience.Bulkhead

	mu        sync.Mutex
	passports map[string]bool
	accounts  port.Cache[domain.Account]
	stop      func()
}

// NewContext creates a gateway-backed banking context.
func NewContext(client *Client, logger *zap.Logger) *Context {
	accounts := cache.New[domain.Account](accountTTL)
	return &Context{
		client:    client,
		logger:    logger,
		busy:      resilience.NewBulkhead(1),
		passports: make(map[string]bool),
		accounts:  accounts,
		stop:      accounts.Close,
	}
}

// Close releases background resources.
func (c *Context) Close() {
	c.stop()
}

// AddPassport registers a PIN/TAN passport for blz/userID on the gateway.
// The backend asks for everything it needs through callbacks.
func (c *Context) AddPassport(ctx context.Context, blz, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Context.AddPassport")
	defer span.End()
	span.SetAttributes(attribute.String("hbci.blz", blz))

	release, err := c.enter("add_passport")
	if err != nil {
		return false, err
	}
	defer release()

	env, err := c.interact(ctx, "AddPassport", blz, userID, "/v1/passports", PassportRequest{
		BLZ:          blz,
		UserID:       userID,
		HBCIVersion:  hbciVersion,
		PassportType: passportType,
		Params:       passportParams,
	})
	if err != nil {
		return false, err
	}

	var result PassportResult
	if err := decodeResult(env, &result); err != nil {
		return false, err
	}
	if !result.OK {
		c.logger.Warn("gateway: passport not created", zap.String("blz", blz))
		return false, nil
	}

	c.mu.Lock()
	c.passports[domain.PassportKey(blz, userID)] = true
	c.mu.Unlock()
	return true, nil
}

// GetAccounts lists the accounts of a registered passport and remembers
// them for later jobs.
func (c *Context) GetAccounts(ctx context.Context, blz, userID string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Context.GetAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("hbci.blz", blz))

	release, err := c.enter("get_accounts")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.requirePassport(blz, userID); err != nil {
		return nil, err
	}

	env, err := c.interact(ctx, JobAccounts, blz, userID, "/v1/jobs", JobRequest{
		BLZ: blz, UserID: userID, Job: JobAccounts,
	})
	if err != nil {
		return nil, err
	}

	var result AccountsResult
	if err := decodeResult(env, &result); err != nil {
		return nil, err
	}
	for _, a := range result.Accounts {
		c.accounts.Set(domain.AccountKey(blz, userID, a.Number), a)
	}
	span.SetAttributes(attribute.Int("hbci.accounts", len(result.Accounts)))
	return result.Accounts, nil
}

// Account returns an account seen by GetAccounts.
func (c *Context) Account(blz, userID, number string) (domain.Account, bool) {
	return c.accounts.Get(domain.AccountKey(blz, userID, number))
}

// GetBalances returns the booked balance of the first balance entry.
func (c *Context) GetBalances(ctx context.Context, blz, userID, number string) (string, error) {
	ctx, span := tracer.Start(ctx, "Context.GetBalances")
	defer span.End()
	span.SetAttributes(attribute.String("hbci.blz", blz))

	release, err := c.enter("get_balances")
	if err != nil {
		return "", err
	}
	defer release()

	if err := c.requirePassport(blz, userID); err != nil {
		return "", err
	}

	env, err := c.interact(ctx, JobBalance, blz, userID, "/v1/jobs", JobRequest{
		BLZ: blz, UserID: userID, Job: JobBalance, Params: c.jobParams(blz, userID, number),
	})
	if err != nil {
		return "", err
	}

	var result BalanceResult
	if err := decodeResult(env, &result); err != nil {
		return "", err
	}
	if len(result.Balances) == 0 {
		return "", &domain.ErrJobFailed{Job: JobBalance, Reason: "no balance entries"}
	}
	return result.Balances[0].Ready.Value, nil
}

// GetStatements returns every turnover line of an account.
func (c *Context) GetStatements(ctx context.Context, blz, userID, number string) ([]domain.Statement, error) {
	ctx, span := tracer.Start(ctx, "Context.GetStatements")
	defer span.End()
	span.SetAttributes(attribute.String("hbci.blz", blz))

	release, err := c.enter("get_statements")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.requirePassport(blz, userID); err != nil {
		return nil, err
	}

	env, err := c.interact(ctx, JobStatements, blz, userID, "/v1/jobs", JobRequest{
		BLZ: blz, UserID: userID, Job: JobStatements, Params: c.jobParams(blz, userID, number),
	})
	if err != nil {
		return nil, err
	}

	var result StatementsResult
	if err := decodeResult(env, &result); err != nil {
		return nil, err
	}

	statements := make([]domain.Statement, 0, len(result.Lines))
	for _, line := range result.Lines {
		st, err := line.Statement()
		if err != nil {
			return nil, fmt.Errorf("statement line: %w", err)
		}
		statements = append(statements, st)
	}
	span.SetAttributes(attribute.Int("hbci.statements", len(statements)))
	return statements, nil
}

// --- internals ---

func (c *Context) enter(op string) (func(), error) {
	if !c.busy.TryAcquire() {
		return nil, &domain.ErrContextBusy{Operation: op}
	}
	return c.busy.Release, nil
}

func (c *Context) requirePassport(blz, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.passports[domain.PassportKey(blz, userID)] {
		return &domain.ErrNoPassport{BLZ: blz, UserID: userID}
	}
	return nil
}

func (c *Context) jobParams(blz, userID, number string) map[string]string {
	country := "DE"
	if a, ok := c.Account(blz, userID, number); ok && a.Country != "" {
		country = a.Country
	}
	return map[string]string{
		"my.country": country,
		"my.blz":     blz,
		"my.number":  number,
	}
}

// interact starts an interaction and answers callbacks until the gateway
// reports a final state.
func (c *Context) interact(ctx context.Context, op, blz, userID, path string, body any) (*Envelope, error) {
	env, err := c.client.Post(ctx, path, blz, userID, body)
	for round := 0; err == nil; round++ {
		c.emitEvents(ctx, env)

		switch env.State {
		case StateDone:
			return env, nil
		case StateFailed:
			return nil, envelopeError(op, env)
		case StateCallback:
		default:
			return nil, &domain.ErrExternalService{
				Service: ServiceName,
				Err:     fmt.Errorf("unexpected interaction state %q", env.State),
			}
		}

		if env.Callback == nil {
			return nil, &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("callback state without callback")}
		}
		reason := domain.Reason(env.Callback.Reason)
		if round >= maxCallbackRounds {
			return nil, &domain.ErrInteractionAborted{Reason: reason, Message: "too many callbacks"}
		}

		answer := c.EmitCallback(ctx, domain.CallbackRequest{
			Reason:   reason,
			Message:  env.Callback.Message,
			Optional: env.Callback.Optional,
		})
		env, err = c.client.Post(ctx, "/v1/jobs/"+url.PathEscape(env.ID)+"/answers", blz, userID, AnswerRequest{
			Reason: env.Callback.Reason,
			Value:  answer,
		})
	}
	return nil, err
}

func (c *Context) emitEvents(ctx context.Context, env *Envelope) {
	for _, l := range env.Logs {
		c.EmitLog(ctx, l.Message, domain.LogLevel(l.Level))
	}
	for _, s := range env.StatusEvents {
		c.EmitStatus(ctx, s.Tag, s.Detail)
	}
}

func envelopeError(op string, env *Envelope) error {
	if env.Error == nil {
		return &domain.ErrJobFailed{Job: op}
	}
	if env.Error.Reason != 0 {
		return &domain.ErrInteractionAborted{Reason: domain.Reason(env.Error.Reason), Message: env.Error.Message}
	}
	return &domain.ErrJobFailed{Job: op, Reason: env.Error.Message}
}

func decodeResult(env *Envelope, out any) error {
	if len(env.Result) == 0 {
		return &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("interaction %s finished without result", env.ID)}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &domain.ErrExternalService{Service: ServiceName, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}
