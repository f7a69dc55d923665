// Package simulator implements port.BankingContext offline, against a
// fixture bank. It runs the same callback handshake a PIN/TAN passport
// needs on a real backend, which makes it usable for demos and tests of
// the session driver without bank access.
package simulator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/resilience"
	"github.com/boddenberg/hbci-session-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var tracer = otel.Tracer("simulator")

// Status tags emitted while a passport is set up and jobs run.
const (
	StatusPassportInit int64 = 1
	StatusDialogInit   int64 = 2
	StatusSendTask     int64 = 3
	StatusDialogEnd    int64 = 4
)

// Context is a simulated banking context. Like a real one it must be
// used sequentially.
type Context struct {
	domain.Signals

	fx     *Fixture
	dir    port.BankDirectory
	logger *zap.Logger
	busy   *resilience.Bulkhead

	mu        sync.Mutex
	passports map[string]bool
}

// NewContext creates a simulator over fx. dir resolves bank names and the
// default PIN/TAN host.
func NewContext(fx *Fixture, dir port.BankDirectory, logger *zap.Logger) *Context {
	return &Context{
		fx:        fx,
		dir:       dir,
		logger:    logger,
		busy:      resilience.NewBulkhead(1),
		passports: make(map[string]bool),
	}
}

type handshakeStep struct {
	reason   domain.Reason
	message  string
	optional string
	check    func(answer string) error
}

// AddPassport runs the passport handshake. An unknown bank yields a false
// status; a rejected answer aborts with domain.ErrInteractionAborted.
func (c *Context) AddPassport(ctx context.Context, blz, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Simulator.AddPassport")
	defer span.End()
	span.SetAttributes(attribute.String("hbci.blz", blz))

	release, err := c.enter("add_passport")
	if err != nil {
		return false, err
	}
	defer release()

	if blz != c.fx.Bank.BLZ {
		c.EmitLog(ctx, fmt.Sprintf("no PIN/TAN access known for bank %s", blz), domain.LogLevelError)
		return false, nil
	}
	if userID != c.fx.User.UserID {
		c.EmitLog(ctx, fmt.Sprintf("unknown user %s", userID), domain.LogLevelError)
		return false, nil
	}

	c.EmitStatus(ctx, StatusPassportInit, blz)
	c.EmitLog(ctx, fmt.Sprintf("creating PinTan passport for %s (%s)", c.bankName(blz), blz), domain.LogLevelInfo)

	bank := c.fx.Bank
	user := c.fx.User
	steps := []handshakeStep{
		{domain.ReasonNeedCountry, "Länderkennung", "", expect("country", bank.Country, true)},
		{domain.ReasonNeedBLZ, "Bankleitzahl", "", expect("blz", blz, false)},
		{domain.ReasonNeedHost, "Server-Adresse", "", c.checkHost(ctx, blz)},
		{domain.ReasonNeedPort, "TCP-Port", "", expectOr("port", bank.Port, "443")},
		{domain.ReasonNeedFilter, "Filter", "", checkFilter},
		{domain.ReasonNeedUserID, "Benutzerkennung", "", expect("user id", userID, false)},
		{domain.ReasonNeedCustomerID, "Kunden-ID", "", expectOr("customer id", user.CustomerID, userID)},
		{domain.ReasonNeedPassphraseSave, "Passwort für Schlüsseldatei", "", checkPassphrase},
		{domain.ReasonNeedPTSecMech, "Sicherheitsverfahren", bank.OfferedSecMechs(), c.checkSecMech},
	}
	for _, step := range steps {
		answer := c.EmitCallback(ctx, domain.CallbackRequest{
			Reason:   step.reason,
			Message:  step.message,
			Optional: step.optional,
		})
		if err := step.check(answer); err != nil {
			c.EmitLog(ctx, err.Error(), domain.LogLevelError)
			return false, &domain.ErrInteractionAborted{Reason: step.reason, Message: err.Error()}
		}
		c.EmitLog(ctx, fmt.Sprintf("%s accepted", step.reason), domain.LogLevelDebug)
	}

	pin := c.EmitCallback(ctx, domain.CallbackRequest{Reason: domain.ReasonNeedPTPIN, Message: "PIN"})
	if bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)) != nil {
		c.EmitCallback(ctx, domain.CallbackRequest{Reason: domain.ReasonWrongPIN, Message: "PIN falsch"})
		c.EmitLog(ctx, "PIN rejected by bank", domain.LogLevelError)
		c.logger.Warn("simulator: wrong PIN", zap.String("blz", blz), zap.String("user_id", userID))
		return false, &domain.ErrInteractionAborted{Reason: domain.ReasonWrongPIN, Message: "PIN rejected by bank"}
	}

	c.EmitStatus(ctx, StatusDialogInit, "")
	c.EmitLog(ctx, "passport ready", domain.LogLevelInfo)

	c.mu.Lock()
	c.passports[domain.PassportKey(blz, userID)] = true
	c.mu.Unlock()

	c.logger.Debug("simulator: passport registered", zap.String("blz", blz), zap.String("user_id", userID))
	return true, nil
}

// GetAccounts returns the fixture accounts of a registered passport.
func (c *Context) GetAccounts(ctx context.Context, blz, userID string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Simulator.GetAccounts")
	defer span.End()

	release, err := c.enter("get_accounts")
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.requirePassport(blz, userID); err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, len(c.fx.Accounts))
	for i, a := range c.fx.Accounts {
		accounts[i] = a.Account
	}
	c.EmitLog(ctx, fmt.Sprintf("%d accounts found", len(accounts)), domain.LogLevelInfo)
	return accounts, nil
}

// GetBalances returns the fixture balance of an account.
func (c *Context) GetBalances(ctx context.Context, blz, userID, number string) (string, error) {
	ctx, span := tracer.Start(ctx, "Simulator.GetBalances")
	defer span.End()

	release, err := c.enter("get_balances")
	if err != nil {
		return "", err
	}
	defer release()

	acc, err := c.runJob(ctx, "SaldoReq", blz, userID, number)
	if err != nil {
		return "", err
	}
	return acc.Balance, nil
}

// GetStatements returns the prettified turnover lines of an account.
func (c *Context) GetStatements(ctx context.Context, blz, userID, number string) ([]domain.Statement, error) {
	ctx, span := tracer.Start(ctx, "Simulator.GetStatements")
	defer span.End()

	release, err := c.enter("get_statements")
	if err != nil {
		return nil, err
	}
	defer release()

	acc, err := c.runJob(ctx, "KUmsAll", blz, userID, number)
	if err != nil {
		return nil, err
	}

	statements := make([]domain.Statement, len(acc.Statements))
	for i, l := range acc.Statements {
		st, err := l.Statement()
		if err != nil {
			return nil, fmt.Errorf("statement line: %w", err)
		}
		statements[i] = st
	}
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

func (c *Context) runJob(ctx context.Context, job, blz, userID, number string) (*AccountFixture, error) {
	if err := c.requirePassport(blz, userID); err != nil {
		return nil, err
	}

	var acc *AccountFixture
	for i := range c.fx.Accounts {
		if c.fx.Accounts[i].Account.Number == number {
			acc = &c.fx.Accounts[i]
			break
		}
	}
	if acc == nil {
		c.EmitLog(ctx, fmt.Sprintf("job %s: unknown account %s", job, number), domain.LogLevelError)
		return nil, &domain.ErrNotFound{Resource: "account", ID: domain.AccountKey(blz, userID, number)}
	}

	c.EmitStatus(ctx, StatusSendTask, job)
	c.EmitLog(ctx, fmt.Sprintf("executing %s for %s", job, number), domain.LogLevelDebug)

	for _, cb := range acc.Callbacks {
		answer := c.EmitCallback(ctx, domain.CallbackRequest{Reason: cb.reason, Message: cb.Message})
		// A TAN is the only job-time question the bank cannot do without.
		if cb.reason == domain.ReasonNeedPTTAN && answer == "" {
			c.EmitLog(ctx, fmt.Sprintf("job %s: no TAN given", job), domain.LogLevelError)
			return nil, &domain.ErrInteractionAborted{Reason: cb.reason, Message: "no TAN given"}
		}
	}

	c.EmitStatus(ctx, StatusDialogEnd, job)
	return acc, nil
}

func (c *Context) bankName(blz string) string {
	if c.dir == nil {
		return blz
	}
	if name := c.dir.NameForBLZ(blz); name != "" {
		return name
	}
	return blz
}

// checkHost accepts the fixture host. An empty answer falls back to the
// host of the directory's PIN/TAN URL, as the backend does.
func (c *Context) checkHost(ctx context.Context, blz string) func(string) error {
	return func(answer string) error {
		if answer == "" && c.dir != nil {
			if u, err := url.Parse(c.dir.PinTanURLForBLZ(blz)); err == nil && u.Host != "" {
				answer = u.Hostname()
				c.EmitLog(ctx, "using PIN/TAN host from bank directory: "+answer, domain.LogLevelInfo)
			}
		}
		if answer == "" {
			return fmt.Errorf("no host for bank %s", blz)
		}
		if !strings.EqualFold(answer, c.fx.Bank.Host) {
			return fmt.Errorf("cannot connect to %s", answer)
		}
		return nil
	}
}

func (c *Context) checkSecMech(answer string) error {
	if !c.fx.Bank.offers(answer) {
		return fmt.Errorf("security mechanism %q not offered (%s)", answer, c.fx.Bank.OfferedSecMechs())
	}
	return nil
}

func expect(field, want string, foldCase bool) func(string) error {
	return func(answer string) error {
		if answer == want || (foldCase && strings.EqualFold(answer, want)) {
			return nil
		}
		return fmt.Errorf("unexpected %s %q", field, answer)
	}
}

// expectOr is expect with a value that an empty answer stands for.
func expectOr(field, want, fallback string) func(string) error {
	return func(answer string) error {
		if answer == "" {
			answer = fallback
		}
		return expect(field, want, false)(answer)
	}
}

func checkFilter(answer string) error {
	switch answer {
	case "Base64", "None":
		return nil
	}
	return fmt.Errorf("unsupported filter %q", answer)
}

func checkPassphrase(answer string) error {
	if answer == "" {
		return fmt.Errorf("passport file needs a passphrase")
	}
	return nil
}
