package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hexlume/castquest/internal/archive"
	"github.com/hexlume/castquest/internal/config"
	"github.com/hexlume/castquest/internal/enso"
	"github.com/hexlume/castquest/internal/farcaster"
	"github.com/hexlume/castquest/internal/relay"
	"github.com/hexlume/castquest/internal/store"
	"github.com/hexlume/castquest/internal/telemetry"
	"github.com/hexlume/castquest/internal/webhook"
	"github.com/hexlume/castquest/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "castquest-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	jobStore, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	cancel()
	if err != nil {
		logger.Fatalf("store setup failed: %v", err)
	}
	defer func() {
		if err := jobStore.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	// Validate and Mint live behind the same partner API key.
	ensoClient := enso.NewClient(enso.Config{
		ValidateURL: cfg.Enso.ValidateURL,
		MintURL:     cfg.Enso.MintURL,
		Key:         cfg.Enso.Key,
	})

	deps := worker.Deps{
		Social: farcaster.NewClient(farcaster.Config{
			BaseURL: cfg.Farcaster.BaseURL,
			APIKey:  cfg.Farcaster.APIKey,
		}),
		Validator: ensoClient,
		Minter:    ensoClient,
		Rewarder: relay.NewClient(relay.Config{
			BaseURL:         cfg.Relay.BaseURL,
			APIKey:          cfg.Relay.APIKey,
			ProjectID:       cfg.Relay.ProjectID,
			ContractAddress: cfg.Relay.ContractAddress,
			ChainID:         cfg.Relay.ChainID,
			RewardWei:       cfg.Relay.RewardWei,
		}),
		Store: jobStore,
		WebhookClient: webhook.NewClient(webhook.Config{
			SigningSecret: cfg.Webhook.SigningSecret,
			MaxAttempts:   3,
		}),
		QuestID: cfg.Frame.QuestID,
	}

	if cfg.Archive.Enabled {
		archiveClient, err := archive.NewClient(archive.Config{
			Endpoint: cfg.Archive.Endpoint,
			Access:   cfg.Archive.AccessKey,
			Secret:   cfg.Archive.SecretKey,
			Bucket:   cfg.Archive.Bucket,
			UseSSL:   cfg.Archive.UseSSL,
		})
		if err != nil {
			logger.Fatalf("archive setup failed: %v", err)
		}

		ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		err = archiveClient.EnsureBucket(ctx)
		cancel()
		if err != nil {
			logger.Fatalf("archive bucket setup failed: %v", err)
		}
		deps.Evidence = archiveClient
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		metricsServer := &http.Server{
			Addr:         cfg.Worker.MetricsAddr,
			Handler:      srv.MetricsHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
