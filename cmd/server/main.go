// Package main is the entry point of the reflex-arena API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reflex-arena/internal/archive"
	"reflex-arena/internal/cache"
	"reflex-arena/internal/chain"
	"reflex-arena/internal/config"
	"reflex-arena/internal/game"
	"reflex-arena/internal/pkg/db"
	"reflex-arena/internal/policy"
	"reflex-arena/internal/replay"
	"reflex-arena/internal/repository"
	"reflex-arena/internal/runtoken"
	"reflex-arena/internal/scheduler"
	"reflex-arena/internal/server"
	"reflex-arena/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(&cfg.Log)

	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	defer eth.Close()

	verifier := chain.NewVerifier(
		eth,
		common.HexToAddress(cfg.Chain.TokenAddress),
		common.HexToAddress(cfg.Chain.TreasuryAddress),
		cfg.Chain.MinConfirmations,
	)

	pol, err := policy.New(&cfg.Payment, &cfg.Prize, &cfg.Chain)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid payment policy")
	}

	tokens, err := runtoken.NewAuthority([]byte(cfg.Token.Secret))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid token secret")
	}

	var publisher archive.Publisher = archive.Noop{}
	if cfg.Archive.Enabled {
		s3pub, err := archive.NewS3Publisher(ctx, &cfg.Archive)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create winners archive")
		}
		publisher = s3pub
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Winners archive enabled")
	}

	runner := db.NewTxRunner(dbPool, cfg.Database.TxRetries)
	memCache := cache.NewMemory()

	eventRepo := repository.NewEventRepository(dbPool)
	creditRepo := repository.NewCreditRepository(dbPool)
	runRepo := repository.NewRunRepository(dbPool)
	boardRepo := repository.NewLeaderboardRepository(dbPool)
	intentRepo := repository.NewIntentRepository(dbPool)
	winnersRepo := repository.NewWinnersRepository(dbPool)

	ledger := service.NewCreditLedger(runner, creditRepo, &cfg.Game)
	auditor := service.NewAuditor(verifier, intentRepo, &cfg.Payment)

	runService := service.NewRunService(service.RunServiceDeps{
		Runner:      runner,
		Events:      eventRepo,
		Runs:        runRepo,
		Leaderboard: boardRepo,
		Ledger:      ledger,
		Tokens:      tokens,
		Validator:   replay.NewValidator(game.DefaultConfig(), cfg.Game.ClockSkew),
		Cache:       memCache,
	}, &cfg.Game, &cfg.Cache)

	paymentService := service.NewPaymentService(service.PaymentServiceDeps{
		Runner:   runner,
		Events:   eventRepo,
		Intents:  intentRepo,
		Ledger:   ledger,
		Verifier: verifier,
		Policy:   pol,
		Auditor:  auditor,
	}, &cfg.Payment, &cfg.Chain)

	prizeService, err := service.NewPrizeService(service.PrizeServiceDeps{
		Runner:      runner,
		Events:      eventRepo,
		Leaderboard: boardRepo,
		Winners:     winnersRepo,
		Policy:      pol,
		Publisher:   publisher,
		Cache:       memCache,
	}, &cfg.Prize)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid prize table")
	}

	eventService := service.NewEventService(runner, eventRepo)

	if _, err := auditor.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume pending audits")
	}

	jobs, err := scheduler.New(scheduler.Jobs{
		Sweeper:              paymentService,
		SweepInterval:        cfg.Payment.SweepInterval,
		Credits:              ledger,
		CreditExpiryInterval: cfg.Game.CreditExpiryInterval,
		Cache:                memCache,
		CleanupInterval:      cfg.Cache.CleanupInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	jobs.Start()

	srv, err := server.New(&server.Dependencies{
		Config:   cfg,
		Health:   dbPool,
		Runs:     runService,
		Ledger:   ledger,
		Payments: paymentService,
		Prizes:   prizeService,
		Events:   eventService,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("Server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down server")
	}
	if err := jobs.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop scheduler")
	}
	auditor.Close()

	log.Info().Msg("Server stopped gracefully")
}

func setupLogger(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
