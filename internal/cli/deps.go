package cli

import (
	"time"

	"kesefly/internal/amqp"
	"kesefly/internal/config"
	"kesefly/internal/currency"
	"kesefly/internal/ledger"
	"kesefly/internal/log"
)

// NewCurrencyProvider builds the Frankfurter then ECB then static-rates
// chain from cfg. Validate has already checked FALLBACK_RATES.
func NewCurrencyProvider(cfg *config.Config, logger *log.Logger) *currency.Provider {
	var sources []currency.Source
	if cfg.RatesURL != "" {
		sources = append(sources, currency.NewFrankfurter(cfg.RatesURL, cfg.RatesTimeout))
	}
	if cfg.ECBRatesURL != "" {
		sources = append(sources, currency.NewECB(cfg.ECBRatesURL, cfg.RatesTimeout))
	}
	fallback, _ := currency.ParseRates(cfg.FallbackRates)
	return currency.NewProvider(currency.ProviderConfig{
		Sources:  sources,
		Fallback: fallback,
		Policy:   currency.Policy(cfg.RateFailurePolicy),
		TTL:      cfg.RatesTTL,

		// every source may use its full timeout before the static rates
		FetchTimeout: cfg.RatesTimeout * time.Duration(len(sources)+1),
	}, logger)
}

// Normalizer hands every report its own conversion run.
func Normalizer(p *currency.Provider) func() ledger.Normalizer {
	return func() ledger.Normalizer { return p.NewRun() }
}

// InitAMQP connects the ledger event client when AMQP_URL is set. A nil
// client means events are not published; the caller keeps working on
// SQLite alone.
func InitAMQP(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - ledger events will not be mirrored")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
		return nil
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client
}

// Publisher converts a possibly nil client into a nil interface so
// services can test for it.
func Publisher(c *amqp.Client) amqp.Publisher {
	if c == nil {
		return nil
	}
	return c
}
