package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/export"
	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/fetch"
	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/profile"
	"github.com/maltedev/price-tracker/internal/ratelimit"
	"github.com/maltedev/price-tracker/internal/storage"
	"github.com/maltedev/price-tracker/internal/tracker"
)

func main() {
	var (
		inputFile  = flag.String("file", "", "input file with product URLs (.txt or .csv)")
		format     = flag.String("format", "", "input format: txt or csv (default: by extension)")
		delayMin   = flag.Duration("delay-min", 0, "minimum delay between requests (default from config)")
		delayMax   = flag.Duration("delay-max", 0, "maximum delay between requests (default from config)")
		useBrowser = flag.Bool("browser", false, "render pages in a headless browser")
		outputDir  = flag.String("output", "", "directory for the CSV export (default from config)")
		updateAll  = flag.Bool("update", false, "rescrape every tracked product instead of reading an input file")
	)
	flag.Parse()

	if *inputFile == "" && !*updateAll {
		fmt.Fprintln(os.Stderr, "usage: bulk-scraper -file urls.txt [-delay-min 3s] [-browser]")
		fmt.Fprintln(os.Stderr, "       bulk-scraper -update")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *delayMin == 0 {
		*delayMin = cfg.Scraper.DelayMin
	}
	if *delayMax < *delayMin {
		*delayMax = *delayMin
	}
	if *outputDir == "" {
		*outputDir = cfg.Jobs.ExportDir
	}

	var items []jobs.Item
	if !*updateAll {
		items, err = readItems(*inputFile, *format)
		if err != nil {
			logger.Error("failed to read input file", "file", *inputFile, "error", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			logger.Error("input file holds no URLs", "file", *inputFile)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	profiles, err := profile.NewFileStore(cfg.Scraper.ProfilesPath)
	if err != nil {
		logger.Error("failed to load site profiles", "error", err)
		os.Exit(1)
	}

	var fetcher fetch.Fetcher = fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout:   cfg.Scraper.FetchTimeout,
		UserAgent: cfg.Scraper.UserAgent,
	})
	if *useBrowser {
		browser, err := fetch.NewBrowserFetcher(&fetch.BrowserOptions{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			UserAgent:      cfg.Scraper.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			Locale:         cfg.Browser.Locale,
		}, logger)
		if err != nil {
			logger.Error("failed to start browser", "error", err)
			os.Exit(1)
		}
		defer browser.Close()
		fetcher = browser
	}

	recorder := history.NewRecorder(db, logger)
	sink := tracker.New(db, recorder, logger)
	ex := extractor.New(fetcher, profiles, cfg.Scraper.MaxImages, logger)
	governor := ratelimit.NewJittered(*delayMin, *delayMax)

	if *updateAll {
		if err := sink.UpdateAll(ctx, ex, governor); err != nil {
			logger.Error("update of tracked products failed", "error", err)
			os.Exit(1)
		}
		return
	}

	jobStore, err := storage.NewFileStore(cfg.Jobs.FilePath)
	if err != nil {
		logger.Error("failed to open job store", "path", cfg.Jobs.FilePath, "error", err)
		os.Exit(1)
	}

	ledger, err := jobs.Create(ctx, jobStore, items, jobs.Options{
		UseBrowser: *useBrowser,
		Delay:      *delayMin,
	}, logger)
	if err != nil {
		logger.Error("failed to create job", "error", err)
		os.Exit(1)
	}

	runner := jobs.NewRunner(jobs.RunnerConfig{
		Extractor: ex,
		Sink:      sink,
		Governor:  governor,
		Exporter:  export.NewCSVExporter(db, *outputDir),
		Logger:    logger,
	})

	logger.Info("starting bulk scrape", "job", ledger.ID(), "urls", len(items), "delay_min", *delayMin, "delay_max", *delayMax)

	start := time.Now()
	if err := runner.Run(ctx, ledger); err != nil {
		logger.Error("bulk scrape failed", "error", err)
		os.Exit(1)
	}

	printSummary(ledger.Snapshot(), time.Since(start))
}

// readItems parses the input file into job items. Text files carry one URL
// per line; CSV files need a url column and carry every other column as item
// metadata.
func readItems(path, format string) ([]jobs.Item, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			format = "csv"
		default:
			format = "txt"
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case "txt":
		return readTextItems(f)
	case "csv":
		return readCSVItems(f)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

func readTextItems(f *os.File) ([]jobs.Item, error) {
	var items []jobs.Item

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, jobs.Item{URL: line})
	}

	return items, scanner.Err()
}

func readCSVItems(f *os.File) ([]jobs.Item, error) {
	reader := csv.NewReader(f)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	urlCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "url") {
			urlCol = i
			break
		}
	}
	if urlCol < 0 {
		return nil, fmt.Errorf("csv input needs a url column")
	}

	var items []jobs.Item
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		url := strings.TrimSpace(record[urlCol])
		if url == "" {
			continue
		}

		metadata := make(map[string]string)
		for i, value := range record {
			if i == urlCol || strings.TrimSpace(value) == "" {
				continue
			}
			metadata[strings.TrimSpace(header[i])] = strings.TrimSpace(value)
		}
		if len(metadata) == 0 {
			metadata = nil
		}

		items = append(items, jobs.Item{URL: url, Metadata: metadata})
	}

	return items, nil
}

func printSummary(job jobs.Job, elapsed time.Duration) {
	fmt.Printf("\nJob %s finished: %s\n", job.ID, job.State)
	fmt.Printf("  processed: %d/%d\n", job.Success+job.Failure, job.Total)
	fmt.Printf("  succeeded: %d\n", job.Success)
	fmt.Printf("  failed:    %d\n", job.Failure)
	fmt.Printf("  elapsed:   %s\n", elapsed.Round(time.Second))

	if len(job.ErrorLog) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range job.ErrorLog {
			fmt.Printf("  %s: %s\n", e.URL, e.Reason)
		}
	}

	if job.OutputRef != "" {
		fmt.Printf("\nExport written to %s\n", job.OutputRef)
	}
}
