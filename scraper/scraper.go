package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-autovit/config"
	"github.com/aluiziolira/go-scrape-autovit/models"
	"github.com/aluiziolira/go-scrape-autovit/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Scraper walks catalog pages in order until one yields no records.
type Scraper struct {
	cfg       *config.Config
	fetcher   PageFetcher
	extractor *parser.Extractor
	Metrics   *Metrics
}

// NewScraper builds a scraper backed by a colly fetcher and the default selectors.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewCollyFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return New(cfg, fetcher, parser.NewExtractor(parser.DefaultSelectors()), metrics), nil
}

// New assembles a scraper from explicit collaborators.
func New(cfg *config.Config, fetcher PageFetcher, extractor *parser.Extractor, metrics *Metrics) *Scraper {
	return &Scraper{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		Metrics:   metrics,
	}
}

// Run crawls from page 1 and returns every record collected. Fetch failures and
// malformed entries are logged and counted, never returned.
func (s *Scraper) Run() (*models.CrawlResult, error) {
	skipLog, err := lru.New[string, string](s.cfg.SkipLogSize)
	if err != nil {
		return nil, fmt.Errorf("create skip log: %w", err)
	}

	result := &models.CrawlResult{
		StartTime:     time.Now(),
		ErrorsByType:  make(map[string]int),
		SkipsByReason: make(map[string]int),
	}

	var cars []models.Car
	page := 1
	for {
		found := s.crawlPage(page, result, skipLog)
		result.PagesVisited++
		s.Metrics.IncPages()
		if len(found) == 0 {
			break
		}
		cars = append(cars, found...)
		page++
	}

	result.Cars = cars
	result.TerminalPage = page
	result.EndTime = time.Now()
	for _, key := range skipLog.Keys() {
		if reason, ok := skipLog.Peek(key); ok {
			result.RecentSkips = append(result.RecentSkips, key+": "+reason)
		}
	}

	slog.Info("crawl finished",
		slog.Int("pages", result.PagesVisited),
		slog.Int("records", len(result.Cars)),
		slog.Int("skipped", result.SkippedItems),
		slog.Int("failed_pages", len(result.FailedURLs)),
	)
	return result, nil
}

func (s *Scraper) crawlPage(page int, result *models.CrawlResult, skipLog *lru.Cache[string, string]) []models.Car {
	slog.Info("scraping page", slog.Int("page", page))

	doc, err := s.fetcher.Fetch(page)
	if err != nil {
		category := errorTypeLabel(err)
		result.ErrorsByType[category]++
		url := s.fetcher.PageURL(page)
		var failure *FetchFailure
		if errors.As(err, &failure) {
			url = failure.URL
		}
		result.FailedURLs = append(result.FailedURLs, url)
		s.Metrics.IncError(category)
		slog.Error("page fetch failed",
			slog.Int("page", page),
			slog.String("url", url),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return nil
	}

	extracted := s.extractor.Extract(doc)
	for _, skipped := range extracted.Skipped() {
		reason := parser.Reason(skipped.Err)
		result.SkippedItems++
		result.SkipsByReason[reason]++
		skipLog.Add(fmt.Sprintf("page %d/entry %d", page, skipped.Position), skipped.Err.Error())
		s.Metrics.IncSkipped(reason)
		slog.Warn("listing skipped",
			slog.Int("page", page),
			slog.Int("position", skipped.Position),
			slog.String("reason", reason),
			slog.Any("error", skipped.Err),
		)
	}

	cars := extracted.Cars()
	s.Metrics.AddItems(len(cars))

	// The pagination control is not used for termination; disagreements are only reported.
	hasNext := s.extractor.HasNextPage(doc)
	if hasNext == (len(cars) == 0) {
		slog.Debug("pagination indicator disagrees with page contents",
			slog.Int("page", page),
			slog.Bool("next_indicator", hasNext),
			slog.Int("records", len(cars)),
		)
	}

	if len(cars) == 0 {
		slog.Info("no cars found on page, stopping", slog.Int("page", page))
	}
	return cars
}
