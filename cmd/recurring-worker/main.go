package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"kesefly/internal/cli"
	"kesefly/internal/config"
	"kesefly/internal/log"
	"kesefly/internal/services"
)

func main() {
	audit := flag.Bool("audit", false, "report recurring children stored outside their parent's scope and exit")
	fix := flag.Bool("fix", false, "with -audit, move mismatched children into the parent's scope")
	once := flag.Bool("once", false, "run one materialisation pass and exit")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient := cli.InitAMQP(logger, cfg)
	if amqpClient != nil {
		defer amqpClient.Close()
	}
	processor := services.NewRecurringProcessor(repo, cli.Publisher(amqpClient), nil, logger)

	if *audit {
		report, err := processor.Audit(context.Background(), *fix)
		if err != nil {
			logger.Error("Scope audit failed", log.FieldError, err)
			os.Exit(1)
		}
		fmt.Printf("mismatches=%d repaired=%d\n", len(report.Mismatches), report.Repaired)
		if len(report.Mismatches) > report.Repaired {
			os.Exit(2)
		}
		return
	}

	r := &runner{processor: processor, logger: logger, now: time.Now}
	if rdb := initRedis(logger, cfg); rdb != nil {
		defer rdb.Close()
		r.locker = redislock.New(rdb)
	}

	if *once {
		if _, _, err := r.run(context.Background()); err != nil {
			logger.Error("Recurring run failed", log.FieldError, err)
			os.Exit(1)
		}
		return
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	c := cron.New()
	if _, err := c.AddFunc(cfg.RecurringSchedule, func() { r.tick(ctx) }); err != nil {
		logger.Error("Invalid recurring schedule", log.FieldError, err, "schedule", cfg.RecurringSchedule)
		os.Exit(1)
	}

	// Catch up on startup rather than waiting for the first tick.
	r.tick(ctx)
	c.Start()
	logger.Info("Recurring processor scheduled",
		"schedule", cfg.RecurringSchedule,
		"locking", r.locker != nil,
		"sqlite_db", cfg.SQLiteDBPath)

	cli.WaitForShutdown(ctx, done)
	<-c.Stop().Done()
	logger.Info("Recurring-worker shutdown complete")
}

// initRedis returns nil when REDIS_URL is unset or unreachable; the worker
// then runs without the single-runner lock.
func initRedis(logger *log.Logger, cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, running without lock", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		return nil
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, running without lock", log.FieldError, err, log.FieldErrorType, log.ErrorTypeNetwork)
		rdb.Close()
		return nil
	}
	return rdb
}
