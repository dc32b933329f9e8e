package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"styleforge/internal/adapter/repo"
	"styleforge/internal/commerce"
	"styleforge/internal/http/handlers"
	"styleforge/internal/http/httpapi"
	"styleforge/internal/infra"
	"styleforge/internal/notify"
	"styleforge/internal/poll"
	"styleforge/internal/providers/runpod"
	"styleforge/internal/sqlinline"
	"styleforge/internal/storage"
	"styleforge/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	ctx := context.Background()

	var store repo.Store
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("no DATABASE_URL, using the in-memory store")
		store = repo.NewMemStore(cfg.MockDataTTL)
	} else {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			code, msg := infra.ClassifyConnectivity(err)
			logger.Fatal().Err(err).Str("code", string(code)).Msg(msg)
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		if _, err := runner.Exec(ctx, sqlinline.QSchema); err != nil {
			logger.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		store = repo.NewPGStore(runner, pool)
	}

	objects := storage.NewClient(storage.Options{
		BaseURL:    cfg.StorageBaseURL,
		ServiceKey: cfg.StorageServiceKey,
		Logger:     &logger,
	})

	templates := workflow.NewTemplateResolver(cfg.TemplateDir)
	builder := workflow.NewBuilder(workflow.BuilderOptions{
		Templates:       templates,
		Fetcher:         objects,
		ModeOverride:    cfg.ImageTransportMode,
		CheckpointName:  cfg.CheckpointName,
		StyleCheckpoint: infra.StyleCheckpointOverride,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Logger:          logger,
	})

	var provider runpod.Provider
	if cfg.MockMode {
		logger.Info().Msg("mock provider enabled, no jobs will reach the network")
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

	app := &handlers.App{
		Store:      store,
		Provider:   provider,
		Builder:    builder,
		Templates:  templates,
		Objects:    objects,
		Poller:     poll.New(store, provider, dispatcher, logger),
		Dispatcher: dispatcher,
		Config:     cfg,
		Logger:     logger,
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	app.Drain()
	dispatcher.Wait()
	logger.Info().Msg("server stopped")
}
