// Package pipeline persists crawled records to their output destinations.
package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-scrape-autovit/models"
)

// SinkError reports that records could not be persisted. It is fatal to a run.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// NewWriter opens the writer for format at filename. The "dual" format also
// writes a JSONL file next to the CSV.
func NewWriter(format, filename string) (OutputWriter, error) {
	var (
		w   OutputWriter
		err error
	)
	switch format {
	case "json":
		w, err = NewJSONWriter(filename)
	case "csv":
		w, err = NewCSVWriter(filename)
	case "dual":
		w, err = NewCSVJSONWriter(filename, strings.TrimSuffix(filename, ".csv")+".jsonl")
	default:
		return nil, &SinkError{Op: "open", Err: fmt.Errorf("unsupported format: %s", format)}
	}
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}
	return w, nil
}

// Persist writes cars in order, validates the output, and closes w.
func Persist(w OutputWriter, cars []models.Car) error {
	if err := w.Write(cars); err != nil {
		w.Close()
		return &SinkError{Op: "write", Err: err}
	}
	if err := w.Validate(); err != nil {
		w.Close()
		return &SinkError{Op: "validate", Err: err}
	}
	if err := w.Close(); err != nil {
		return &SinkError{Op: "close", Err: err}
	}
	slog.Info("records persisted", slog.Int("records", len(cars)))
	return nil
}
