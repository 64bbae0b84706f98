package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL      string
	MaxPrice     int
	Timeout      time.Duration // zero keeps the collector default
	OutputFile   string
	OutputFormat string // csv, json, or dual
	DatabaseURL  string
	UserAgent    string
	SkipLogSize  int
	Verbose      bool
	MetricsAddr  string
}

// DefaultConfig returns the settings for the autovit.ro car catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://www.autovit.ro/autoturisme",
		MaxPrice:     20000,
		Timeout:      0,
		OutputFile:   "autovit_cars.csv",
		OutputFormat: "csv",
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3",
		SkipLogSize:  50,
		Verbose:      false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("base URL must not carry a query string")
	}

	if c.MaxPrice <= 0 {
		return fmt.Errorf("max price must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.DatabaseURL != "" {
		dbURL, err := url.Parse(c.DatabaseURL)
		if err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
		if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
			return fmt.Errorf("database URL must use the postgres scheme")
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SkipLogSize <= 0 {
		return fmt.Errorf("skip log size must be positive")
	}

	return nil
}
