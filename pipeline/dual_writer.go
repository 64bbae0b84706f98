package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-autovit/models"
)

// DualWriter sends every write to two writers, primary first.
type DualWriter struct {
	primary   OutputWriter
	secondary OutputWriter
	mu        sync.Mutex
}

// NewDualWriter pairs two already-open writers.
func NewDualWriter(primary, secondary OutputWriter) *DualWriter {
	return &DualWriter{
		primary:   primary,
		secondary: secondary,
	}
}

// NewCSVJSONWriter creates a dual writer for CSV and JSON output.
func NewCSVJSONWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("failed to create JSON writer: %w", err)
	}

	return NewDualWriter(csvWriter, jsonWriter), nil
}

// Write writes cars to both outputs.
func (dw *DualWriter) Write(cars []models.Car) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.primary.Write(cars); err != nil {
		return fmt.Errorf("primary write failed: %w", err)
	}
	if err := dw.secondary.Write(cars); err != nil {
		return fmt.Errorf("secondary write failed: %w", err)
	}
	return nil
}

// Close closes both writers, reporting every failure.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close failed: %w", err))
	}
	if err := dw.secondary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("secondary close failed: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates both outputs.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.primary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("primary validation failed: %w", err))
	}
	if err := dw.secondary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("secondary validation failed: %w", err))
	}
	return errors.Join(errs...)
}
