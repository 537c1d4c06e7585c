// Package main provides the basin-remap HTTP server: it prepares the remap
// table of the configured case and serves inspection and run endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/store/ncdf"
	"go.ngs.io/basin-remap/internal/adapter/store/shapefile"
	"go.ngs.io/basin-remap/internal/config"
	httpHandler "go.ngs.io/basin-remap/internal/http"
	"go.ngs.io/basin-remap/internal/observability"
	"go.ngs.io/basin-remap/internal/usecase"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "remap.yaml", "Path to the YAML configuration")
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Printf("basin-remap-server version %s\n", version)
		return
	}

	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	metrics := observability.NewMetrics()

	lib := geometry.NewProvider()
	opener := ncdf.Opener(cfg.Source.TimeVar)
	svc := usecase.NewService(
		usecase.NewTableUseCase(cfg, lib, opener,
			shapefile.NewLoader(lib, cfg.Target.Attributes...), shapefile.NewLoader(lib), logger, metrics),
		usecase.NewApplyUseCase(cfg, opener, logger, metrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The table is prepared in the background; /health reports "preparing"
	// until it is ready.
	go func() {
		if _, err := svc.Prepare(ctx); err != nil {
			logger.Error("failed to prepare remap table", "error", err)
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler.SetupRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("basin-remap server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  basin-remap-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH   YAML configuration (default: remap.yaml)")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  REMAP_HTTP_ADDR         Listen address (default: :8080)")
	fmt.Println("  REMAP_*                 Configuration overrides, see config package")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                    Health check")
	fmt.Println("  GET  /metrics                   Prometheus metrics")
	fmt.Println("  GET  /v1/table                  Remap table summary and hash")
	fmt.Println("  GET  /v1/table/targets/:id      Table rows of one target")
	fmt.Println("  POST /v1/runs                   Remap all configured source files")
	fmt.Println("  GET  /v1/runs/last              Report of the last run")
	fmt.Println()
}
