package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/boddenberg/hbci-session-go/internal/config"
	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/observability"

	"go.uber.org/zap"
)

// Fixed answers the backend gets regardless of configuration.
const (
	answerCountry    = "DE"
	answerFilter     = "Base64"
	answerPassphrase = "42"
)

// Answerer supplies credentials and settings when the banking backend
// asks for them, and echoes every event to the transcript writer.
type Answerer struct {
	creds   config.Credentials
	out     io.Writer
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAnswerer creates an answerer over a fixed credential bundle.
func NewAnswerer(creds config.Credentials, out io.Writer, metrics *observability.Metrics, logger *zap.Logger) *Answerer {
	return &Answerer{
		creds:   creds,
		out:     out,
		metrics: metrics,
		logger:  logger,
	}
}

// Decide returns the answer for reason. decided is false only for codes
// outside the known enumeration; every known reason is either answered
// or explicitly declined with "".
func (a *Answerer) Decide(reason domain.Reason) (answer string, decided bool) {
	switch reason {
	case domain.ReasonNeedCountry:
		return answerCountry, true
	case domain.ReasonNeedBLZ:
		return a.creds.BLZ, true
	case domain.ReasonNeedUserID:
		return a.creds.UserID, true
	case domain.ReasonNeedCustomerID:
		return a.creds.CustomerID, true
	case domain.ReasonNeedHost:
		return a.creds.Host, true
	case domain.ReasonNeedPort:
		return a.creds.Port, true
	case domain.ReasonNeedFilter:
		return answerFilter, true
	case domain.ReasonNeedPassphraseLoad, domain.ReasonNeedPassphraseSave:
		return answerPassphrase, true
	case domain.ReasonNeedPTPIN:
		return a.creds.PIN, true
	case domain.ReasonNeedPTSecMech:
		return a.creds.SecMech, true

	// Chipcard, hardware/software PIN, TAN entry, key acknowledgement,
	// proxy and informational reasons are not supported by this driver.
	case domain.ReasonNeedChipcard,
		domain.ReasonNeedHardPIN,
		domain.ReasonNeedSoftPIN,
		domain.ReasonHaveHardPIN,
		domain.ReasonHaveChipcard,
		domain.ReasonNeedNewInstKeysAck,
		domain.ReasonHaveNewMyKeys,
		domain.ReasonHaveInstMsg,
		domain.ReasonNeedRemoveChipcard,
		domain.ReasonNeedPTTAN,
		domain.ReasonHaveCRCError,
		domain.ReasonHaveError,
		domain.ReasonNeedSizEntrySelect,
		domain.ReasonNeedConnection,
		domain.ReasonCloseConnection,
		domain.ReasonNeedProxyUser,
		domain.ReasonNeedProxyPass,
		domain.ReasonHaveIBANError,
		domain.ReasonNeedInfoPointAck,
		domain.ReasonNeedPTTANMedia,
		domain.ReasonWrongPIN,
		domain.ReasonUserIDChanged:
		return "", true
	}
	return "", false
}

// Answer handles a callback. It prints "event:  <reason> <message>" and,
// for a security mechanism request, the offered mechanisms.
func (a *Answerer) Answer(_ context.Context, req domain.CallbackRequest) string {
	fmt.Fprintln(a.out, "event: ", req.Reason, req.Message)

	answer, decided := a.Decide(req.Reason)
	if !decided {
		a.logger.Warn("unknown callback reason, declining",
			zap.Int64("reason", int64(req.Reason)),
			zap.String("message", req.Message),
		)
	}

	if req.Reason == domain.ReasonNeedPTSecMech {
		fmt.Fprintln(a.out, req.Optional)
		a.checkSecMech(req.Optional)
	}

	logged := answer
	if req.Reason.IsSecret() && answer != "" {
		logged = "redacted"
	}
	a.logger.Debug("callback answered",
		zap.Stringer("reason", req.Reason),
		zap.String("message", req.Message),
		zap.String("answer", logged),
	)
	a.metrics.IncrCallback(req.Reason, answer != "")
	return answer
}

// Log handles a backend log event. It never fails.
func (a *Answerer) Log(_ context.Context, msg string, level domain.LogLevel) {
	fmt.Fprintln(a.out, "log: ", msg)

	if ce := a.logger.Check(observability.ZapLevel(level), "backend log"); ce != nil {
		ce.Write(zap.String("message", msg), zap.Stringer("level", level))
	}
	a.metrics.IncrLogEvent(level)
}

// Status handles a backend status event.
func (a *Answerer) Status(_ context.Context, tag int64, detail string) {
	a.logger.Debug("backend status", zap.Int64("tag", tag), zap.String("detail", detail))
}

// checkSecMech warns when the configured mechanism is not among the
// offered ones. The configured value is sent regardless.
func (a *Answerer) checkSecMech(offered string) {
	codes := ParseSecMechs(offered)
	if len(codes) == 0 {
		return
	}
	for _, code := range codes {
		if code == a.creds.SecMech {
			return
		}
	}
	a.logger.Warn("configured security mechanism not offered by bank",
		zap.String("configured", a.creds.SecMech),
		zap.Strings("offered", codes),
	)
}

// ParseSecMechs extracts the mechanism codes from an offered list like
// "900:iTAN|942:mobileTAN". Unparseable input yields nil.
func ParseSecMechs(offered string) []string {
	var codes []string
	for _, entry := range strings.Split(offered, "|") {
		code, _, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || code == "" {
			return nil
		}
		codes = append(codes, code)
	}
	return codes
}
