// Package parser turns catalog pages into car records.
package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-autovit/models"
)

var (
	// ErrMissingLink means the entry had no listing anchor or the anchor had no target.
	ErrMissingLink = errors.New("missing listing link")
	// ErrMalformedLink means the anchor target is not a valid URL reference.
	ErrMalformedLink = errors.New("malformed listing link")
)

// ExtractError describes a catalog entry that produced no record.
type ExtractError struct {
	Position int
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("entry %d: %v", e.Position, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Reason returns a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingLink):
		return "missing_link"
	case errors.Is(err, ErrMalformedLink):
		return "malformed_link"
	default:
		return "other"
	}
}

// Selectors locates each field within the catalog markup.
type Selectors struct {
	Entry     string
	Link      string
	LinkAttr  string
	FullName  string
	Price     string
	Location  string
	Year      string
	MileageKM string
	FuelType  string
	NextPage  string
}

// DefaultSelectors matches the autovit.ro search results layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Entry:     "article.ooa-1yux8sr.e15xeixv0",
		Link:      "a.ooa-mtc8pf",
		LinkAttr:  "href",
		FullName:  "p.e2z61p70",
		Price:     "h3.e6r213i1",
		Location:  "p.ooa-gmxnzj",
		Year:      `dd[data-parameter="year"]`,
		MileageKM: `dd[data-parameter="mileage"]`,
		FuelType:  `dd[data-parameter="fuel_type"]`,
		NextPage:  "li.next",
	}
}

// Outcome is the result of extracting one catalog entry: either a Car or the reason it was skipped.
type Outcome struct {
	Position int // 1-based, document order
	Car      models.Car
	Err      error
}

// OK reports whether the entry produced a record.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Page holds the outcomes for every entry found on one document.
type Page struct {
	Outcomes []Outcome
}

// Cars returns the successfully extracted records in document order.
func (p Page) Cars() []models.Car {
	cars := make([]models.Car, 0, len(p.Outcomes))
	for _, o := range p.Outcomes {
		if o.OK() {
			cars = append(cars, o.Car)
		}
	}
	return cars
}

// Skipped returns the outcomes that did not produce a record.
func (p Page) Skipped() []Outcome {
	var skipped []Outcome
	for _, o := range p.Outcomes {
		if !o.OK() {
			skipped = append(skipped, o)
		}
	}
	return skipped
}

// Extractor reads car records out of a parsed catalog page.
type Extractor struct {
	sel Selectors
}

// NewExtractor builds an extractor using sel.
func NewExtractor(sel Selectors) *Extractor {
	return &Extractor{sel: sel}
}

// Extract walks every catalog entry in doc. A page with no entries yields an empty Page.
func (x *Extractor) Extract(doc *goquery.Document) Page {
	var page Page
	if doc == nil {
		return page
	}
	doc.Find(x.sel.Entry).Each(func(i int, entry *goquery.Selection) {
		position := i + 1
		car, err := x.extractCar(entry)
		if err != nil {
			page.Outcomes = append(page.Outcomes, Outcome{
				Position: position,
				Err:      &ExtractError{Position: position, Err: err},
			})
			return
		}
		page.Outcomes = append(page.Outcomes, Outcome{Position: position, Car: car})
	})
	return page
}

// HasNextPage reports whether doc shows a pagination "next" control.
func (x *Extractor) HasNextPage(doc *goquery.Document) bool {
	if doc == nil {
		return false
	}
	return doc.Find(x.sel.NextPage).Length() > 0
}

func (x *Extractor) extractCar(entry *goquery.Selection) (models.Car, error) {
	anchor := entry.Find(x.sel.Link).First()
	if anchor.Length() == 0 {
		return models.Car{}, ErrMissingLink
	}
	href, ok := anchor.Attr(x.sel.LinkAttr)
	href = NormalizeText(href)
	if !ok || href == "" {
		return models.Car{}, ErrMissingLink
	}
	if _, err := url.Parse(href); err != nil {
		return models.Car{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}

	return models.Car{
		Link:      href,
		FullName:  childText(entry, x.sel.FullName),
		Price:     childText(entry, x.sel.Price),
		Year:      childText(entry, x.sel.Year),
		MileageKM: childText(entry, x.sel.MileageKM),
		FuelType:  childText(entry, x.sel.FuelType),
		Location:  childText(entry, x.sel.Location),
	}, nil
}

func childText(entry *goquery.Selection, selector string) models.Field {
	node := entry.Find(selector).First()
	if node.Length() == 0 {
		return models.Missing()
	}
	return models.Present(NormalizeText(node.Text()))
}

// NormalizeText trims surrounding whitespace.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}
