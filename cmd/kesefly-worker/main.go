package main

import (
	"context"
	"os"
	"time"

	"kesefly/internal/cli"
	"kesefly/internal/config"
	"kesefly/internal/log"
	"kesefly/internal/sheets"
	gsheet "kesefly/internal/sheets/google"
	mem "kesefly/internal/sheets/memory"
	"kesefly/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting kesefly-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the ledger mirror worker", log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	mirror, err := initMirror(logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize ledger mirror",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration,
			"backend", cfg.MirrorBackend)
		os.Exit(1)
	}

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient == nil {
		os.Exit(1)
	}
	defer amqpClient.Close()

	mw := worker.NewMirrorWorker(amqpClient, mirror, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := mw.Stop(ctx); err != nil {
			logger.Error("Mirror worker stopped with error", log.FieldError, err)
		}
	})

	if err := mw.Start(ctx); err != nil {
		logger.Error("Failed to start mirror worker", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Mirroring ledger events",
		"backend", cfg.MirrorBackend,
		"queue", cfg.AMQPQueue)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Kesefly-worker shutdown complete")
}

func initMirror(logger *log.Logger, cfg *config.Config) (sheets.LedgerMirror, error) {
	if cfg.MirrorBackend != config.MirrorSheets {
		logger.Info("Using in-memory ledger mirror")
		return mem.New(), nil
	}
	client, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.LedgerSheetName,
		CredentialsFile: cfg.GoogleServiceAccountFile,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
