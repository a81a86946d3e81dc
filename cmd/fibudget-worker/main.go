package main

import (
	"context"
	"os"
	"time"

	"fibudget/internal/amqp"
	"fibudget/internal/cli"
	gsheet "fibudget/internal/ledger/google"
	applog "fibudget/internal/log"
	"fibudget/internal/services"
	"fibudget/internal/storage"
	"fibudget/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting fibudget-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required by the worker")
		os.Exit(1)
	}

	sheetsClient, err := gsheet.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	}

	// The sqlite backend keeps a sync queue that covers saves whose message
	// never reached the broker.
	var processor *services.SyncProcessor
	if cfg.DataBackend == "sqlite" {
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()

		processor = services.NewSyncProcessor(repo, sheetsClient, services.SyncProcessorConfig{
			PollInterval: cfg.SyncInterval,
			BatchSize:    cfg.SyncBatchSize,
		})
	}

	if amqpClient == nil && processor == nil {
		logger.Error("Nothing to do: set AMQP_URL or use the sqlite backend")
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Error("Sync processor stop error", "error", err)
			}
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start sync processor", "error", err)
			os.Exit(1)
		}
		logger.Info("Sync processor started",
			"interval", cfg.SyncInterval,
			"batch_size", cfg.SyncBatchSize)
	}

	if amqpClient != nil {
		syncWorker := worker.NewSyncWorker(sheetsClient)
		go func() {
			if err := syncWorker.Run(ctx, amqpClient); err != nil {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
