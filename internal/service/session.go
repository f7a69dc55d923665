// Package service provides the session use case and the callback
// answerer that feeds credentials to the banking backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/config"
	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/observability"
	"github.com/boddenberg/hbci-session-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/session")

// Session drives the fixed read-only sequence against a banking context:
// add passport, fetch accounts, fetch balance, fetch statements. Results
// are printed to the transcript writer.
type Session struct {
	id       string
	bc       port.BankingContext
	creds    config.Credentials
	answerer *Answerer
	out      io.Writer
	metrics  *observability.Metrics
	logger   *zap.Logger

	ready atomic.Bool
}

// NewSession creates a session with all dependencies injected.
func NewSession(
	bc port.BankingContext,
	creds config.Credentials,
	out io.Writer,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Session {
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))
	return &Session{
		id:       id,
		bc:       bc,
		creds:    creds,
		answerer: NewAnswerer(creds, out, metrics, logger),
		out:      out,
		metrics:  metrics,
		logger:   logger,
	}
}

// ID returns the session correlation id.
func (s *Session) ID() string {
	return s.id
}

// Ready reports whether the passport has been registered.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Run installs the handlers and executes the sequence. The first error
// from the banking context aborts the run.
func (s *Session) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("hbci.blz", s.creds.BLZ),
	)

	s.bc.OnLog(s.answerer.Log)
	s.bc.OnCallback(s.answerer.Answer)
	s.bc.OnStatus(s.answerer.Status)

	err := s.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	summary := s.metrics.Snapshot()
	summary.SessionID = s.id
	s.logger.Info("session finished",
		zap.Bool("ok", err == nil),
		zap.Int64("callbacks", summary.Callbacks),
		zap.Int64("answered", summary.Answered),
		zap.Int64("declined", summary.Declined),
		zap.Any("log_events", summary.LogEvents),
		zap.Int64("external_errors", summary.ExternalErrors),
	)
	return err
}

func (s *Session) run(ctx context.Context) error {
	blz, user, number := s.creds.BLZ, s.creds.UserID, s.creds.AccountNumber

	var ok bool
	err := s.timed(ctx, "add_passport", func(ctx context.Context) (err error) {
		ok, err = s.bc.AddPassport(ctx, blz, user)
		return err
	})
	if err != nil {
		return fmt.Errorf("add passport: %w", err)
	}
	fmt.Fprintln(s.out, ok)
	if ok {
		s.ready.Store(true)
	}

	var accounts []domain.Account
	err = s.timed(ctx, "get_accounts", func(ctx context.Context) (err error) {
		accounts, err = s.bc.GetAccounts(ctx, blz, user)
		return err
	})
	if err != nil {
		return fmt.Errorf("get accounts: %w", err)
	}
	fmt.Fprintln(s.out, domain.FormatAccounts(accounts))
	for _, a := range accounts {
		fmt.Fprintln(s.out, a.Number)
	}

	var balance string
	err = s.timed(ctx, "get_balances", func(ctx context.Context) (err error) {
		balance, err = s.bc.GetBalances(ctx, blz, user, number)
		return err
	})
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}
	fmt.Fprintf(s.out, "\"%s\"\n", balance)

	var statements []domain.Statement
	err = s.timed(ctx, "get_statements", func(ctx context.Context) (err error) {
		statements, err = s.bc.GetStatements(ctx, blz, user, number)
		return err
	})
	if err != nil {
		return fmt.Errorf("get statements: %w", err)
	}
	for _, st := range statements {
		s.printStatement(st)
	}

	if net, err := domain.NetTurnover(statements); err == nil {
		s.logger.Info("statements fetched",
			zap.Int("count", len(statements)),
			zap.Stringer("net_turnover", net),
		)
	} else {
		s.logger.Warn("cannot total statements", zap.Error(err))
	}
	return nil
}

func (s *Session) printStatement(st domain.Statement) {
	for _, line := range []string{
		st.Valuta.String(),
		st.BookingDate.String(),
		st.Saldo,
		st.Value,
		st.Reference,
		st.GVCode,
		st.OtherName,
		st.OtherBIC,
		st.OtherIBAN,
	} {
		fmt.Fprintln(s.out, line)
	}
}

// timed runs one banking operation in its own span and records its
// duration and external failures.
func (s *Session) timed(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Session."+op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordOperationDuration(op, time.Since(start))

	if err != nil {
		span.RecordError(err)
		var ext *domain.ErrExternalService
		if errors.As(err, &ext) {
			s.metrics.IncrExternalError(ext.Service)
		}
		s.logger.Error("banking operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}
