// Package models defines data structures for the scraper.
package models

import (
	"encoding/json"
	"time"
)

// NotAvailable is rendered in place of a field the listing did not expose.
const NotAvailable = "N/A"

// Field is a listing attribute that may be absent from the source markup.
type Field struct {
	value string
	ok    bool
}

// Present wraps an extracted value.
func Present(v string) Field {
	return Field{value: v, ok: true}
}

// Missing returns a field with no value.
func Missing() Field {
	return Field{}
}

// Value returns the extracted text and whether it was present.
func (f Field) Value() (string, bool) {
	return f.value, f.ok
}

// IsMissing reports whether the field was absent.
func (f Field) IsMissing() bool {
	return !f.ok
}

// String renders the field, substituting NotAvailable when absent.
func (f Field) String() string {
	if !f.ok {
		return NotAvailable
	}
	return f.value
}

// MarshalJSON encodes the rendered form so JSON output matches the CSV.
func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// Car represents one vehicle advertisement from the catalog.
type Car struct {
	Link      string `csv:"link" json:"link"`
	FullName  Field  `csv:"full_name" json:"full_name"`
	Price     Field  `csv:"price" json:"price"`
	Year      Field  `csv:"year" json:"year"`
	MileageKM Field  `csv:"mileage_km" json:"mileage_km"`
	FuelType  Field  `csv:"fuel_type" json:"fuel_type"`
	Location  Field  `csv:"location" json:"location"`
}

// Row returns the car's columns in output order.
func (c Car) Row() []string {
	return []string{
		c.Link,
		c.FullName.String(),
		c.Price.String(),
		c.Year.String(),
		c.MileageKM.String(),
		c.FuelType.String(),
		c.Location.String(),
	}
}

// Columns lists the output column names in the order Row emits them.
func Columns() []string {
	return []string{"link", "full_name", "price", "year", "mileage_km", "fuel_type", "location"}
}

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	Cars          []Car
	StartTime     time.Time
	EndTime       time.Time
	PagesVisited  int
	TerminalPage  int
	FailedURLs    []string
	ErrorsByType  map[string]int
	SkippedItems  int
	SkipsByReason map[string]int
	RecentSkips   []string
}
