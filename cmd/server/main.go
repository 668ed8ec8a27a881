// Command alertme-server serves the trigger and combination API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/auth"
	"github.com/and161185/alertme/internal/metrics"
	"github.com/and161185/alertme/internal/migrate"
	"github.com/and161185/alertme/internal/push"
	"github.com/and161185/alertme/internal/push/fcm"
	"github.com/and161185/alertme/internal/repository/postgres"
	httpserver "github.com/and161185/alertme/internal/server/http"
	"github.com/and161185/alertme/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads .env, parses configuration, runs migrations and serves HTTP until SIGINT/SIGTERM.
func main() {
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	issuer, err := auth.NewIssuer([]byte(cfg.JWTKey), cfg.TokenTTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.MintToken != "" {
		if err := mintToken(os.Stdout, issuer, cfg.MintToken); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger, _ := zap.NewProduction()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, issuer, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config, issuer *auth.Issuer, logger *zap.Logger) error {
	ver, err := migrate.Up(ctx, cfg.DSN, logger)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", ver))

	db, err := postgres.New(ctx, cfg.DSN, int32(cfg.MaxConns))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	provider, err := newProvider(ctx, cfg.FCMCredentials, logger)
	if err != nil {
		return err
	}

	userRepo := postgres.NewUserRepo(db)
	comboRepo := postgres.NewCombinationRepo(db)
	endpointRepo := postgres.NewEndpointRepo(db)
	m := metrics.New()

	combos := service.NewCombinationService(comboRepo, userRepo)
	endpoints := service.NewEndpointService(endpointRepo, userRepo)
	triggers := service.NewTriggerService(comboRepo, userRepo, endpointRepo, provider,
		service.TriggerOptions{Timeout: cfg.FanoutTimeout, Concurrency: cfg.FanoutWorkers},
		m, logger.Named("trigger"))

	srv := httpserver.New(combos, triggers, endpoints, issuer, m, logger.Named("http"), httpserver.Options{
		RateLimit: cfg.RateLimit,
		CertFile:  cfg.CertFile,
		KeyFile:   cfg.KeyFile,
	})
	return srv.Serve(ctx, cfg.Addr)
}

func newProvider(ctx context.Context, credentials string, logger *zap.Logger) (push.Provider, error) {
	if credentials == "" {
		logger.Warn("no FCM credentials, alerts are only logged")
		return push.NewLogProvider(logger.Named("push")), nil
	}
	p, err := fcm.New(ctx, credentials)
	if err != nil {
		return nil, fmt.Errorf("fcm: %w", err)
	}
	return p, nil
}

func mintToken(w io.Writer, issuer *auth.Issuer, rawID string) error {
	id, err := uuid.FromString(rawID)
	if err != nil || id == uuid.Nil {
		return fmt.Errorf("bad user id %q", rawID)
	}
	tok, _, err := issuer.Issue(id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, tok)
	return err
}
