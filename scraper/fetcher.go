package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-autovit/config"
	"github.com/gocolly/colly/v2"
	"github.com/motemen/go-loghttp"
)

const (
	ctxStart  = "start"
	ctxBody   = "body"
	ctxStatus = "status"
)

var errEmptyResponse = errors.New("empty response body")

// PageFetcher retrieves one catalog page as a parsed document.
type PageFetcher interface {
	Fetch(page int) (*goquery.Document, error)
	PageURL(page int) string
}

// CollyFetcher issues one synchronous colly request per catalog page.
type CollyFetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
}

// NewCollyFetcher builds a fetcher for cfg.BaseURL filtered by cfg.MaxPrice.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	if cfg.Timeout > 0 {
		collector.SetRequestTimeout(cfg.Timeout)
	}
	collector.IgnoreRobotsTxt = true

	f := &CollyFetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
	}
	f.useTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	f.configureHandlers()
	return f, nil
}

// PageURL builds the search URL for a 1-based page index.
func (f *CollyFetcher) PageURL(page int) string {
	return fmt.Sprintf("%s?search%%5Bfilter_float_price%%3Ato%%5D=%d&search%%5Badvanced_search_expanded%%5D=true&page=%d",
		strings.TrimSuffix(f.cfg.BaseURL, "/"), f.cfg.MaxPrice, page)
}

// Fetch downloads and parses one catalog page. Every failure is returned as a *FetchFailure.
func (f *CollyFetcher) Fetch(page int) (*goquery.Document, error) {
	target := f.PageURL(page)
	ctx := colly.NewContext()

	if err := f.collector.Request(http.MethodGet, target, nil, ctx, nil); err != nil {
		status, _ := ctx.GetAny(ctxStatus).(int)
		return nil, &FetchFailure{URL: target, Err: classifyError(err, status)}
	}

	body, ok := ctx.GetAny(ctxBody).([]byte)
	if !ok {
		return nil, &FetchFailure{URL: target, Err: errEmptyResponse}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchFailure{URL: target, Err: fmt.Errorf("parse html: %w", err)}
	}
	return doc, nil
}

// useTransport routes collector traffic through rt, logging each exchange at debug level.
func (f *CollyFetcher) useTransport(rt http.RoundTripper) {
	f.collector.WithTransport(&loghttp.Transport{
		Transport: rt,
		LogRequest: func(req *http.Request) {
			slog.Debug("HTTP request",
				slog.String("method", req.Method),
				slog.String("url", req.URL.String()),
			)
		},
		LogResponse: func(resp *http.Response) {
			target := ""
			if resp.Request != nil {
				target = resp.Request.URL.String()
			}
			slog.Debug("HTTP response",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
			)
		},
	})
}

func (f *CollyFetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		f.metrics.IncRequest("completed")
		r.Ctx.Put(ctxBody, r.Body)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		f.metrics.IncRequest("failed")
		if r == nil {
			return
		}
		r.Ctx.Put(ctxStatus, r.StatusCode)
		if r.StatusCode >= http.StatusBadRequest {
			slog.Error("non-200 response",
				slog.Int("status", r.StatusCode),
				slog.String("url", r.Request.URL.String()),
			)
		}
	})
}
