package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"kesefly/internal/currency"
)

// Mirror backends for the ledger worker.
const (
	MirrorMemory = "memory"
	MirrorSheets = "sheets"
)

const minShareSecret = 32

type Config struct {
	// HTTP Server
	Port               string
	BaseURL            string
	RateLimitPerMinute int
	MaxUploadBytes     int64

	// Database
	SQLiteDBPath string

	// Exchange rates
	RatesURL          string
	ECBRatesURL       string
	RatesTTL          time.Duration
	RatesTimeout      time.Duration
	RateFailurePolicy string
	FallbackRates     string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger mirror
	MirrorBackend            string
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	LedgerSheetName          string

	// Receipt scanning
	GeminiAPIKey      string
	ScanModel         string
	ScanFallbackModel string

	// PDF
	ChromePath string

	// Public share links
	ShareSecret string
	ShareTTL    time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Recurring worker
	RecurringSchedule string
	RedisURL          string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/kesefly.db"),

		RatesURL:          getEnv("RATES_URL", "https://api.frankfurter.app/latest"),
		ECBRatesURL:       getEnv("ECB_RATES_URL", "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"),
		RatesTTL:          getEnvDuration("RATES_TTL", time.Hour),
		RatesTimeout:      getEnvDuration("RATES_TIMEOUT", 5*time.Second),
		RateFailurePolicy: getEnv("RATE_FAILURE_POLICY", string(currency.PolicyFallback)),
		FallbackRates:     getEnv("FALLBACK_RATES", "USD:3.70,EUR:4.00,GBP:4.70"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "kesefly"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_mirror"),

		MirrorBackend:            getEnv("MIRROR_BACKEND", MirrorMemory),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		LedgerSheetName:          getEnv("LEDGER_SHEET_NAME", "Ledger"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		ScanModel:         getEnv("SCAN_MODEL", "gemini-2.5-flash"),
		ScanFallbackModel: getEnv("SCAN_FALLBACK_MODEL", "gemini-2.0-flash"),

		ChromePath: getEnv("CHROME_PATH", ""),

		ShareSecret: getEnv("SHARE_SECRET", ""),
		ShareTTL:    getEnvDuration("SHARE_TTL", 30*24*time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),

		RecurringSchedule: getEnv("RECURRING_SCHEDULE", "0 3 * * *"),
		RedisURL:          getEnv("REDIS_URL", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': must be an absolute http(s) URL", c.BaseURL))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.MaxUploadBytes < 1<<10 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be at least 1024 bytes", c.MaxUploadBytes))
	}

	// Validate SQLite configuration
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate exchange rates
	for name, raw := range map[string]string{"RATES_URL": c.RatesURL, "ECB_RATES_URL": c.ECBRatesURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s '%s'", name, raw))
		}
	}
	if !currency.Policy(c.RateFailurePolicy).Valid() {
		errors = append(errors, fmt.Sprintf("invalid rate failure policy '%s': must be 'fallback' or 'fail'", c.RateFailurePolicy))
	}
	if _, err := currency.ParseRates(c.FallbackRates); err != nil {
		errors = append(errors, fmt.Sprintf("invalid fallback rates: %v", err))
	}
	if c.RatesTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates TTL %v: must be at least 1 minute", c.RatesTTL))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate ledger mirror
	switch c.MirrorBackend {
	case MirrorMemory:
	case MirrorSheets:
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets mirror")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS must be provided for sheets mirror")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid mirror backend '%s': must be one of [%s %s]", c.MirrorBackend, MirrorMemory, MirrorSheets))
	}

	if c.GeminiAPIKey != "" && c.ScanModel == "" {
		errors = append(errors, "SCAN_MODEL cannot be empty when GEMINI_API_KEY is provided")
	}

	// Share links are optional, but a configured secret must be strong.
	if c.ShareSecret != "" && len(c.ShareSecret) < minShareSecret {
		errors = append(errors, fmt.Sprintf("share secret too short: must be at least %d characters", minShareSecret))
	}
	if c.ShareTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid share TTL %v: must be at least 1 minute", c.ShareTTL))
	}

	if c.SMTPHost != "" {
		if port, err := strconv.Atoi(c.SMTPPort); err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SMTP port '%s'", c.SMTPPort))
		}
		if c.SMTPFrom == "" {
			errors = append(errors, "SMTP_FROM is required when SMTP_HOST is provided")
		}
	}

	if _, err := cron.ParseStandard(c.RecurringSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid recurring schedule '%s': %v", c.RecurringSchedule, err))
	}
	if c.RedisURL != "" {
		if _, err := redis.ParseURL(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL: %v", err))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ScanEnabled reports whether receipt scanning can be wired.
func (c *Config) ScanEnabled() bool { return c.GeminiAPIKey != "" }

// ShareEnabled reports whether public document links can be issued.
func (c *Config) ShareEnabled() bool { return c.ShareSecret != "" }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
