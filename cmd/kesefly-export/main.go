package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kesefly/internal/cli"
	"kesefly/internal/core"
	"kesefly/internal/export"
	"kesefly/internal/log"
	"kesefly/internal/services"
)

func main() {
	userID := flag.String("user", "", "user ID to export (required)")
	year := flag.Int("year", time.Now().Year()-1, "tax year")
	out := flag.String("out", ".", "output directory")
	target := flag.String("entity", "", "write one entity export instead, e.g. invoices.xlsx")
	scope := flag.String("scope", "", "with -entity, limit to PERSONAL or BUSINESS")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentExport)

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: kesefly-export -user ID [-year YYYY] [-out DIR] [-entity NAME.FORMAT]")
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()
	logger = logger.With(log.FieldUserID, *userID, log.FieldYear, *year)

	if *target != "" {
		path, err := writeEntity(ctx, services.NewExportService(repo, logger), *userID, *target, *scope, *year, *out)
		if err != nil {
			logger.Error("Entity export failed", log.FieldError, err, log.FieldDocument, *target)
			os.Exit(1)
		}
		logger.Info("Entity export written", "path", path)
		return
	}

	reports := services.NewReportService(repo, cli.Normalizer(cli.NewCurrencyProvider(cfg, logger)), nil, logger)
	files, err := reports.OpenFormat(ctx, *userID, *year)
	if err != nil {
		logger.Error("Open format generation failed", log.FieldError, err)
		os.Exit(1)
	}
	dir := filepath.Join(*out, fmt.Sprintf("openformat-%d", *year))
	if err := files.WriteDir(dir); err != nil {
		logger.Error("Failed to write open format files", log.FieldError, err, "dir", dir)
		os.Exit(1)
	}
	logger.Info("Open format written", "dir", dir)
}

func writeEntity(ctx context.Context, exports *services.ExportService, userID, target, rawScope string, year int, out string) (string, error) {
	entity, format, err := export.ParseTarget(target)
	if err != nil {
		return "", err
	}
	scope, err := core.ParseScope(rawScope, "")
	if err != nil {
		return "", err
	}
	table, err := exports.Table(ctx, userID, entity, scope, year)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		return "", err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(out, fmt.Sprintf("%s-%d.%s", entity, year, format))
	return path, os.WriteFile(path, buf.Bytes(), 0o644)
}
