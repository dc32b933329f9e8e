package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"styleforge/internal/adapter/repo"
	"styleforge/internal/commerce"
	"styleforge/internal/infra"
	"styleforge/internal/notify"
	"styleforge/internal/poll"
	"styleforge/internal/providers/runpod"
)

// The reconciler sweeps orders stuck in PROCESSING and runs them through the
// status poller, so jobs whose completion webhook was lost still converge to
// a terminal state. It never touches PENDING orders and never overrides a
// terminal one; those rules live in the poller and the store.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "reconciler").Logger()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("reconciler needs DATABASE_URL; the in-memory store is not shared across processes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		code, msg := infra.ClassifyConnectivity(err)
		logger.Fatal().Err(err).Str("code", string(code)).Msg(msg)
	}
	defer pool.Close()

	store := repo.NewPGStore(infra.NewSQLRunner(pool, logger), pool)

	var provider runpod.Provider
	if cfg.MockMode {
		provider = runpod.NewMock(cfg.MockJobDelay, cfg.MockDataTTL)
	} else {
		client, err := runpod.NewClient(runpod.Options{
			EndpointID:    cfg.RunpodEndpointID,
			APIKey:        cfg.RunpodAPIKey,
			BaseURL:       cfg.RunpodBaseURL,
			PublicBaseURL: cfg.PublicBaseURL,
			WebhookSecret: cfg.WebhookSecret,
			TokenParam:    cfg.WebhookTokenParam,
			Logger:        &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("provider client init failed")
		}
		provider = client
	}

	notifier := commerce.NewClient(commerce.Options{
		Enabled:     cfg.ShopifyEnabled,
		StoreDomain: cfg.ShopifyStoreDomain,
		AdminToken:  cfg.ShopifyAdminToken,
		APIVersion:  cfg.ShopifyAPIVersion,
		Logger:      &logger,
	})
	dispatcher := notify.NewDispatcher(notifier, logger)
	poller := poll.New(store, provider, dispatcher, logger)

	logger.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("min_age", cfg.ReconcileMinAge).
		Msg("reconciler started")

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		sweep(ctx, cfg, store, poller, logger)
		select {
		case <-ctx.Done():
			dispatcher.Wait()
			logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, cfg *infra.Config, store repo.Store, poller *poll.Poller, logger infra.Logger) {
	jobIDs, err := store.StaleProcessingJobs(ctx, cfg.ReconcileMinAge.Seconds(), cfg.ReconcileBatch)
	if err != nil {
		logger.Error().Err(err).Msg("stale job listing failed")
		return
	}
	for _, jobID := range jobIDs {
		res, err := poller.PollAndReconcile(ctx, jobID)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("reconcile failed")
			continue
		}
		logger.Info().
			Str("job_id", jobID).
			Str("order_id", res.OrderID).
			Str("status", string(res.Status)).
			Msg("reconciled")
	}
}
