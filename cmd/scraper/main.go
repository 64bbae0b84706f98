package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-autovit/config"
	"github.com/aluiziolira/go-scrape-autovit/models"
	"github.com/aluiziolira/go-scrape-autovit/pipeline"
	"github.com/aluiziolira/go-scrape-autovit/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaultCfg := config.DefaultConfig()
	priceDefault := defaultCfg.MaxPrice
	if value, ok, err := config.EnvInt("SCRAPER_MAX_PRICE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_MAX_PRICE: %v\n", err)
		os.Exit(1)
	} else if ok {
		priceDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	databaseDefault := defaultCfg.DatabaseURL
	if value, ok := config.EnvString("SCRAPER_DATABASE_URL"); ok {
		databaseDefault = value
	}

	maxPrice := flag.Int("max-price", priceDefault, "Upper bound on listing price used as the search filter")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Catalog search path")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout (0 keeps the collector default)")
	databaseURL := flag.String("database-url", databaseDefault, "Optional postgres:// URL to mirror records into")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.MaxPrice = *maxPrice
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.BaseURL = *baseURL
	cfg.Timeout = *timeout
	cfg.DatabaseURL = *databaseURL
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_price", cfg.MaxPrice),
		slog.String("output", cfg.OutputFile),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run()
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := pipeline.Persist(writer, result.Cars); err != nil {
		slog.Error("persisting records failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, cfg.OutputFile)
}

func createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return writer, nil
	}

	pg, err := pipeline.NewPostgresWriter(cfg.DatabaseURL)
	if err != nil {
		writer.Close()
		return nil, &pipeline.SinkError{Op: "open", Err: err}
	}
	return pipeline.NewDualWriter(writer, pg), nil
}

func printSummary(result *models.CrawlResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Total cars:    %d\n", len(result.Cars))
	fmt.Printf("  Pages visited: %d\n", result.PagesVisited)
	fmt.Printf("  Failed pages:  %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Skipped items: %d\n", result.SkippedItems)
	if len(result.SkipsByReason) > 0 {
		fmt.Printf("  Skip reasons:  %v\n", result.SkipsByReason)
	}
	for _, skip := range result.RecentSkips {
		fmt.Printf("    %s\n", skip)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
