package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-autovit/config"
	"github.com/aluiziolira/go-scrape-autovit/models"
	"github.com/aluiziolira/go-scrape-autovit/parser"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// stubFetcher serves prepared pages; pages beyond the slice are empty.
type stubFetcher struct {
	pages   []string
	fail    map[int]error
	visited []int
}

func (sf *stubFetcher) PageURL(page int) string {
	return "http://example.test/autoturisme?page=" + strconv.Itoa(page)
}

func (sf *stubFetcher) Fetch(page int) (*goquery.Document, error) {
	sf.visited = append(sf.visited, page)
	if err, ok := sf.fail[page]; ok {
		return nil, &FetchFailure{URL: sf.PageURL(page), Err: err}
	}
	body := "<html><body></body></html>"
	if page-1 < len(sf.pages) {
		body = sf.pages[page-1]
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

func newTestScraper(t *testing.T, fetcher PageFetcher) *Scraper {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/autoturisme"
	return New(cfg, fetcher, parser.NewExtractor(parser.DefaultSelectors()), NewMetrics())
}

func TestRunStopsAtFirstEmptyPage(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
	}{
		{name: "first page empty", sizes: nil},
		{name: "single page", sizes: []int{3}},
		{name: "several pages", sizes: []int{2, 5, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{}
			total := 0
			next := 1
			for _, n := range tt.sizes {
				fetcher.pages = append(fetcher.pages, buildCatalogPage(next, n, true))
				next += n
				total += n
			}

			s := newTestScraper(t, fetcher)
			result, err := s.Run()
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			wantVisited := make([]int, 0, len(tt.sizes)+1)
			for i := 1; i <= len(tt.sizes)+1; i++ {
				wantVisited = append(wantVisited, i)
			}
			if diff := cmp.Diff(wantVisited, fetcher.visited); diff != "" {
				t.Fatalf("visited pages mismatch (-want +got):\n%s", diff)
			}
			if len(result.Cars) != total {
				t.Fatalf("cars=%d, want %d", len(result.Cars), total)
			}
			if result.PagesVisited != len(tt.sizes)+1 || result.TerminalPage != len(tt.sizes)+1 {
				t.Fatalf("pages visited=%d terminal=%d, want %d", result.PagesVisited, result.TerminalPage, len(tt.sizes)+1)
			}
			for i, car := range result.Cars {
				if want := fmt.Sprintf("Car %d", i+1); car.FullName.String() != want {
					t.Fatalf("car %d name=%q, want %q (order must follow pages)", i, car.FullName, want)
				}
			}
		})
	}
}

func TestRunTreatsFetchFailureAsEmptyPage(t *testing.T) {
	fetcher := &stubFetcher{
		pages: []string{
			buildCatalogPage(1, 2, true),
			buildCatalogPage(3, 2, true),
			buildCatalogPage(5, 2, true),
			buildCatalogPage(7, 2, true),
		},
		fail: map[int]error{3: ErrTimeout{Err: context.DeadlineExceeded}},
	}

	s := newTestScraper(t, fetcher)
	result, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]int{1, 2, 3}, fetcher.visited); diff != "" {
		t.Fatalf("visited pages mismatch (-want +got):\n%s", diff)
	}
	if len(result.Cars) != 4 {
		t.Fatalf("cars=%d, want 4 from pages 1-2", len(result.Cars))
	}
	if diff := cmp.Diff([]string{fetcher.PageURL(3)}, result.FailedURLs); diff != "" {
		t.Fatalf("failed urls mismatch (-want +got):\n%s", diff)
	}
	if result.ErrorsByType["timeout"] != 1 {
		t.Fatalf("errors by type = %v, want one timeout", result.ErrorsByType)
	}
	if got := testutil.ToFloat64(s.Metrics.ErrorsTotal.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout metric = %v, want 1", got)
	}
}

func TestRunSkipsMalformedEntries(t *testing.T) {
	page := `<html><body>
<article class="ooa-1yux8sr e15xeixv0"><a class="ooa-mtc8pf" href="/anunt/1"><p class="e2z61p70">Car 1</p></a><h3 class="e6r213i1">5 000</h3></article>
<article class="ooa-1yux8sr e15xeixv0"><a class="ooa-mtc8pf" href="/anunt/2"><p class="e2z61p70">Car 2</p></a></article>
<article class="ooa-1yux8sr e15xeixv0"><a class="ooa-mtc8pf"><p class="e2z61p70">Car 3</p></a><h3 class="e6r213i1">7 000</h3></article>
</body></html>`

	s := newTestScraper(t, &stubFetcher{pages: []string{page}})
	result, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Cars) != 2 {
		t.Fatalf("cars=%d, want 2", len(result.Cars))
	}
	if result.Cars[0].Price.String() != "5 000" {
		t.Fatalf("first price = %q", result.Cars[0].Price)
	}
	if result.Cars[1].Price.String() != models.NotAvailable {
		t.Fatalf("second price = %q, want %q", result.Cars[1].Price, models.NotAvailable)
	}
	if result.SkippedItems != 1 || result.SkipsByReason["missing_link"] != 1 {
		t.Fatalf("skips=%d by reason=%v, want one missing_link", result.SkippedItems, result.SkipsByReason)
	}
	if len(result.RecentSkips) != 1 || !strings.HasPrefix(result.RecentSkips[0], "page 1/entry 3") {
		t.Fatalf("recent skips = %v", result.RecentSkips)
	}
	if got := testutil.ToFloat64(s.Metrics.ItemsSkippedTotal.WithLabelValues("missing_link")); got != 1 {
		t.Fatalf("skipped metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.Metrics.ItemsScrapedTotal); got != 2 {
		t.Fatalf("items metric = %v, want 2", got)
	}
}

func TestRunBoundsRecentSkips(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(`<article class="ooa-1yux8sr e15xeixv0"><a class="ooa-mtc8pf" href="/anunt/ok"></a></article>`)
	for i := 0; i < 10; i++ {
		b.WriteString(`<article class="ooa-1yux8sr e15xeixv0"><p class="e2z61p70">no link</p></article>`)
	}
	b.WriteString("</body></html>")

	fetcher := &stubFetcher{pages: []string{b.String()}}
	s := newTestScraper(t, fetcher)
	s.cfg.SkipLogSize = 3

	result, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.SkippedItems != 10 {
		t.Fatalf("skipped=%d, want 10", result.SkippedItems)
	}
	if len(result.RecentSkips) != 3 {
		t.Fatalf("recent skips=%d, want 3", len(result.RecentSkips))
	}
	if !strings.HasPrefix(result.RecentSkips[2], "page 1/entry 11") {
		t.Fatalf("newest skip should be last, got %v", result.RecentSkips)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "other"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchFailureUnwraps(t *testing.T) {
	err := error(&FetchFailure{URL: "http://example.test/x", Err: ErrNotFound{Err: errors.New("Not Found")}})
	if got := errorTypeLabel(err); got != "not_found" {
		t.Fatalf("label = %q, want not_found", got)
	}
	if !strings.Contains(err.Error(), "http://example.test/x") {
		t.Fatalf("error should name the url: %v", err)
	}
}

func newMockedFetcher(t *testing.T, responder httpmock.Responder) (*CollyFetcher, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/autoturisme"
	cfg.MaxPrice = 20000

	f, err := NewCollyFetcher(cfg, NewMetrics())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(responder)
	f.useTransport(transport)
	return f, cfg
}

func TestPageURL(t *testing.T) {
	f, _ := newMockedFetcher(t, htmlResponder(""))
	want := "http://example.test/autoturisme?search%5Bfilter_float_price%3Ato%5D=20000&search%5Badvanced_search_expanded%5D=true&page=4"
	if got := f.PageURL(4); got != want {
		t.Fatalf("PageURL(4) = %q, want %q", got, want)
	}
}

func TestCollyFetcherSendsQueryAndUserAgent(t *testing.T) {
	var gotQuery map[string][]string
	var gotUA string
	responder := func(req *http.Request) (*http.Response, error) {
		gotQuery = req.URL.Query()
		gotUA = req.Header.Get("User-Agent")
		return htmlResponse(buildCatalogPage(1, 2, false)), nil
	}

	f, cfg := newMockedFetcher(t, responder)
	doc, err := f.Fetch(3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	wantQuery := map[string][]string{
		"search[filter_float_price:to]":     {"20000"},
		"search[advanced_search_expanded]": {"true"},
		"page":                              {"3"},
	}
	if diff := cmp.Diff(wantQuery, gotQuery); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
	if gotUA != cfg.UserAgent {
		t.Fatalf("user agent = %q, want %q", gotUA, cfg.UserAgent)
	}
	if n := doc.Find("article").Length(); n != 2 {
		t.Fatalf("articles=%d, want 2", n)
	}
}

func TestCollyFetcherStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			f, _ := newMockedFetcher(t, httpmock.NewStringResponder(tt.status, ""))
			_, err := f.Fetch(1)

			var failure *FetchFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected FetchFailure, got %v", err)
			}
			if failure.URL != f.PageURL(1) {
				t.Fatalf("failure url = %q, want %q", failure.URL, f.PageURL(1))
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCollyFetcherConnectionError(t *testing.T) {
	f, _ := newMockedFetcher(t, httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))
	_, err := f.Fetch(1)
	if got := errorTypeLabel(err); got != "connection" {
		t.Fatalf("label = %q, want connection (err=%v)", got, err)
	}
}

func TestScraper_Integration(t *testing.T) {
	responder := func(req *http.Request) (*http.Response, error) {
		switch req.URL.Query().Get("page") {
		case "1":
			return htmlResponse(buildCatalogPage(1, 20, true)), nil
		case "2":
			return htmlResponse(buildCatalogPage(21, 20, true)), nil
		case "3":
			return htmlResponse(buildCatalogPage(41, 5, false)), nil
		default:
			return htmlResponse(buildCatalogPage(0, 0, false)), nil
		}
	}

	f, cfg := newMockedFetcher(t, responder)
	s := New(cfg, f, parser.NewExtractor(parser.DefaultSelectors()), f.metrics)

	result, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(result.Cars); got != 45 {
		t.Fatalf("cars=%d, want 45 (pages=%d failed=%v)", got, result.PagesVisited, result.FailedURLs)
	}
	if result.PagesVisited != 4 {
		t.Fatalf("pages visited=%d, want 4", result.PagesVisited)
	}

	sample := result.Cars[0]
	if sample.Link != "/autoturisme/anunt/car-ID1.html" {
		t.Fatalf("link=%q", sample.Link)
	}
	if sample.FullName.String() != "Car 1" || sample.Year.String() != "2012" {
		t.Fatalf("unexpected sample %v", sample.Row())
	}
	if got := testutil.ToFloat64(s.Metrics.PagesCrawledTotal); got != 4 {
		t.Fatalf("pages metric = %v, want 4", got)
	}
}

func TestScraperPriceCeilingScenario(t *testing.T) {
	responder := func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("search[filter_float_price:to]") != "20000" {
			return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
		}
		if req.URL.Query().Get("page") == "1" {
			return htmlResponse(buildCatalogPage(1, 2, true)), nil
		}
		return htmlResponse(buildCatalogPage(0, 0, false)), nil
	}

	f, cfg := newMockedFetcher(t, responder)
	s := New(cfg, f, parser.NewExtractor(parser.DefaultSelectors()), f.metrics)
	result, err := s.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Cars) != 2 || len(result.FailedURLs) != 0 {
		t.Fatalf("cars=%d failed=%v, want 2 cars and no failures", len(result.Cars), result.FailedURLs)
	}
}

func htmlResponse(body string) *http.Response {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html")
	return resp
}

func htmlResponder(body string) httpmock.Responder {
	return httpmock.ResponderFromResponse(htmlResponse(body))
}

func buildCatalogPage(firstID, count int, hasNext bool) string {
	var builder strings.Builder
	builder.WriteString("<html><body><main>")

	for i := 0; i < count; i++ {
		id := firstID + i
		builder.WriteString(`<article class="ooa-1yux8sr e15xeixv0">`)
		fmt.Fprintf(&builder, `<a class="ooa-mtc8pf" href="/autoturisme/anunt/car-ID%d.html"><p class="e2z61p70">Car %d</p></a>`, id, id)
		fmt.Fprintf(&builder, `<dl><dd data-parameter="mileage">%d km</dd><dd data-parameter="fuel_type">Benzina</dd><dd data-parameter="year">2012</dd></dl>`, id*1000)
		builder.WriteString(`<p class="ooa-gmxnzj">Brasov</p>`)
		fmt.Fprintf(&builder, `<h3 class="e6r213i1">%d</h3>`, id*100)
		builder.WriteString("</article>")
	}

	if hasNext {
		builder.WriteString(`<ul><li class="next"><a href="#">next</a></li></ul>`)
	}

	builder.WriteString("</main></body></html>")
	return builder.String()
}
