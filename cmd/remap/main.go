// Package main provides the basin-remap command line tool: it builds (or
// reuses) the remap table of a case and applies it to every source file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/store/ncdf"
	"go.ngs.io/basin-remap/internal/adapter/store/shapefile"
	"go.ngs.io/basin-remap/internal/config"
	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/observability"
	"go.ngs.io/basin-remap/internal/usecase"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "remap.yaml", "Path to the YAML configuration")
	envFile := flag.String("env", ".env", "Optional .env file with REMAP_* overrides")
	tableOnly := flag.Bool("table-only", false, "Build and persist the remap table without remapping")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("basin-remap version %s\n", version)
		return 0
	}

	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lib := geometry.NewProvider()
	opener := ncdf.Opener(cfg.Source.TimeVar)
	tableUC := usecase.NewTableUseCase(cfg, lib, opener,
		shapefile.NewLoader(lib, cfg.Target.Attributes...), shapefile.NewLoader(lib), logger, metrics)
	applyUC := usecase.NewApplyUseCase(cfg, opener, logger, metrics)
	svc := usecase.NewService(tableUC, applyUC)

	if _, err := svc.Prepare(ctx); err != nil {
		logFatal(logger, "failed to prepare remap table", err)
		return 1
	}
	if *tableOnly {
		return 0
	}

	report, err := svc.Run(ctx)
	if err != nil {
		logFatal(logger, "remapping aborted", err)
		return 1
	}
	if report.Failed > 0 {
		for _, f := range report.Files {
			if f.Err != nil {
				logger.Error("file not remapped", "file", f.Source, "error", f.Err)
			}
		}
		return 1
	}
	return 0
}

func logFatal(logger *slog.Logger, msg string, err error) {
	kind := "error"
	if domain.IsFatal(err) {
		kind = "fatal"
	}
	if errors.Is(err, context.Canceled) {
		kind = "cancelled"
	}
	logger.Error(msg, "kind", kind, "error", err)
}
