package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/config"
	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/handler"
	"github.com/boddenberg/hbci-session-go/internal/infra/bankdir"
	"github.com/boddenberg/hbci-session-go/internal/infra/gateway"
	"github.com/boddenberg/hbci-session-go/internal/infra/observability"
	"github.com/boddenberg/hbci-session-go/internal/infra/resilience"
	"github.com/boddenberg/hbci-session-go/internal/infra/simulator"
	"github.com/boddenberg/hbci-session-go/internal/port"
	"github.com/boddenberg/hbci-session-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run drives one session and returns the process exit code. Every
// resource it opens is released before it returns.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("hbci-session", flag.ContinueOnError)
	flags.SetOutput(stderr)
	listBanks := flags.Bool("list-banks", false, "print every bank of the directory and exit")
	bank := flags.String("bank", "", "print name and PIN/TAN URL of a BLZ and exit")
	envFile := flags.String("env", ".env", "dotenv file with HBCI_* settings")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	// --- Load .env file (for local development) ---
	applied, envErr := config.LoadDotEnv(*envFile)

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to read dotenv file", zap.String("path", *envFile), zap.Error(envErr))
	}

	// --- Bank directory ---
	dir, err := bankdir.Open(cfg.BankDirectoryFile)
	if err != nil {
		logger.Error("failed to load bank directory", zap.Error(err))
		return 1
	}

	if *listBanks {
		dir.ForEach(func(b domain.Bank) {
			fmt.Fprintln(stdout, b.BLZ, b.Name)
		})
		return 0
	}
	if *bank != "" {
		b, err := dir.Lookup(*bank)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, b.Name)
		fmt.Fprintln(stdout, b.PinTanURL)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("log_level", cfg.LogLevel),
		zap.String("backend", cfg.Backend),
		zap.Int("dotenv_keys", len(applied)),
		zap.Int("banks", dir.Len()),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("ops_server", cfg.MetricsAddr != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "hbci-session")
	if err != nil {
		logger.Error("failed to init tracer", zap.Error(err))
		return 1
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Banking context ---
	bc, closeBackend, err := newBankingContext(cfg, dir, logger)
	if err != nil {
		logger.Error("failed to create banking context", zap.Error(err))
		return 1
	}
	defer closeBackend()

	// --- Session ---
	session := service.NewSession(bc, cfg.Credentials(), stdout, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	sessionDone := make(chan struct{})

	g.Go(func() error {
		defer close(sessionDone)
		return session.Run(gctx)
	})

	// --- Ops server ---
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      handler.NewRouter(session.Ready, metrics, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			logger.Info("ops server starting", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-sessionDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("session failed", zap.String("session_id", session.ID()), zap.Error(err))
		return 1
	}
	logger.Info("session completed", zap.String("session_id", session.ID()))
	return 0
}

// newBankingContext builds the configured backend. The returned func
// releases its background resources.
func newBankingContext(cfg *config.Config, dir port.BankDirectory, logger *zap.Logger) (port.BankingContext, func(), error) {
	switch cfg.Backend {
	case config.BackendSimulator:
		fx, err := simulator.OpenFixture(cfg.SimulatorFixture)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using offline simulator backend",
			zap.String("bank", dir.NameForBLZ(fx.Bank.BLZ)),
		)
		return simulator.NewContext(fx, dir, logger), func() {}, nil

	case config.BackendGateway:
		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		}
		cb := resilience.NewCircuitBreaker(gateway.ServiceName, logger)
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		signer := gateway.NewTokenSigner(cfg.GatewaySecret, cfg.GatewayTokenTTL)

		logger.Info("using HBCI gateway backend", zap.String("gateway_url", cfg.GatewayURL))
		client := gateway.NewClient(httpClient, cfg.GatewayURL, signer, cb, resilienceCfg, logger)
		bc := gateway.NewContext(client, logger)
		return bc, func() {
			bc.Close()
			signer.Close()
		}, nil
	}
	return nil, nil, &domain.ErrValidation{Field: "HBCI_BACKEND", Message: "unknown backend " + cfg.Backend}
}
