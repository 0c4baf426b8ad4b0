package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"kesefly/internal/cache"
	"kesefly/internal/cli"
	"kesefly/internal/config"
	apphttp "kesefly/internal/http"
	"kesefly/internal/log"
	"kesefly/internal/mailer"
	"kesefly/internal/pdf"
	"kesefly/internal/scan"
	"kesefly/internal/services"
	"kesefly/internal/share"
	"kesefly/internal/storage"
)

const cacheSweepInterval = time.Minute

func main() {
	createUser := flag.String("create-user", "", "create a user with this e-mail, print its API key and exit")
	userName := flag.String("name", "", "display name for -create-user")
	rotateKey := flag.String("rotate-key", "", "issue a new API key for this user ID and exit")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	logger.Info("Starting kesefly server")

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	switch {
	case *createUser != "":
		if err := runCreateUser(repo, *createUser, *userName); err != nil {
			logger.Error("Failed to create user", log.FieldError, err)
			os.Exit(1)
		}
		return
	case *rotateKey != "":
		if err := runRotateKey(repo, *rotateKey); err != nil {
			logger.Error("Failed to rotate API key", log.FieldError, err, log.FieldUserID, *rotateKey)
			os.Exit(1)
		}
		return
	}

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}
	events := cli.Publisher(amqpClient)

	rates := cli.NewCurrencyProvider(cfg, logger)
	renderer := pdf.NewChrome(cfg.ChromePath, logger)
	reports := services.NewReportService(repo, cli.Normalizer(rates), renderer, logger)

	caches := cache.NewManager(logger)
	caches.Register(rates.Cache())
	caches.Register(reports.Cache())
	caches.StartCleanup(cacheSweepInterval)

	svc := apphttp.Services{
		Capture:   services.NewCaptureService(repo, initScanner(logger, cfg), events, reports, logger),
		Documents: services.NewDocumentService(repo, events, reports, logger),
		Delivery:  services.NewDeliveryService(repo, renderer, initSigner(logger, cfg), initMailer(logger, cfg), cfg.BaseURL, logger),
		Reports:   reports,
		Exports:   services.NewExportService(repo, logger),
		Recurring: services.NewRecurringProcessor(repo, events, reports, logger),
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		RequestsPerMinute: cfg.RateLimitPerMinute,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	}, svc, repo, repo, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
	})

	logger.Info("Listening",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"amqp", amqpClient != nil,
		"scan", cfg.ScanEnabled(),
		"share", cfg.ShareEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// initScanner returns nil, and so a 503 on /api/scan-invoice, when no
// Gemini key is configured.
func initScanner(logger *log.Logger, cfg *config.Config) services.ReceiptScanner {
	if !cfg.ScanEnabled() {
		logger.Info("Receipt scanning disabled - no GEMINI_API_KEY provided")
		return nil
	}
	gen, err := scan.NewGemini(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn("Failed to initialize Gemini client, receipt scanning disabled",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeUpstream)
		return nil
	}
	return scan.NewScanner(gen, scan.Config{
		PrimaryModel:  cfg.ScanModel,
		FallbackModel: cfg.ScanFallbackModel,
	}, logger)
}

func initSigner(logger *log.Logger, cfg *config.Config) *share.Signer {
	if !cfg.ShareEnabled() {
		logger.Info("Share links disabled - no SHARE_SECRET provided")
		return nil
	}
	signer, err := share.NewSigner(cfg.ShareSecret, cfg.ShareTTL)
	if err != nil {
		logger.Warn("Share links disabled", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		return nil
	}
	return signer
}

func initMailer(logger *log.Logger, cfg *config.Config) services.MailSender {
	mcfg := mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if !mcfg.Enabled() {
		logger.Info("Invoice e-mail disabled - no SMTP_HOST/SMTP_FROM provided")
		return nil
	}
	return mailer.New(mcfg, logger)
}

func runCreateUser(repo *storage.SQLiteRepository, email, name string) error {
	if name == "" {
		name = email
	}
	key, err := apphttp.GenerateAPIKey()
	if err != nil {
		return err
	}
	user, err := repo.CreateUser(context.Background(), email, name, apphttp.HashAPIKey(key))
	if err != nil {
		return err
	}
	fmt.Printf("user_id=%s\napi_key=%s\n", user.ID, key)
	return nil
}

func runRotateKey(repo *storage.SQLiteRepository, userID string) error {
	key, err := apphttp.GenerateAPIKey()
	if err != nil {
		return err
	}
	if err := repo.SetAPIKeyHash(context.Background(), userID, apphttp.HashAPIKey(key)); err != nil {
		return err
	}
	fmt.Printf("api_key=%s\n", key)
	return nil
}
