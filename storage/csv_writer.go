package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"carmarket-ingest/models"
)

// SnapshotWriter dumps the raw DTO stream of a run to CSV, before
// reconciliation touches the store. Operators use the snapshots to diff a
// misbehaving source against what actually got ingested.
// It is safe for concurrent use.
type SnapshotWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewSnapshotWriter creates (or truncates) the CSV file at the given path
// and writes the header row. Intermediate directories are created
// automatically.
func NewSnapshotWriter(path string) (*SnapshotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"source", "external_id", "title", "brand", "model", "year",
		"price", "mileage", "transmission", "vin", "images", "scraped_at",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("snapshot: write header: %w", err)
	}
	w.Flush()

	return &SnapshotWriter{file: f, writer: w}, nil
}

// WriteRaw appends one run's DTOs to the snapshot file.
func (s *SnapshotWriter) WriteRaw(rows []*models.RawListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		record := []string{
			string(r.Source),
			r.ExternalID,
			r.Title,
			r.Brand,
			r.Model,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Price),
			strconv.Itoa(r.Mileage),
			r.Transmission,
			r.VIN,
			strings.Join(r.Images, " "),
			r.ScrapedAt.Format(time.RFC3339),
		}
		if err := s.writer.Write(record); err != nil {
			return fmt.Errorf("snapshot: write row: %w", err)
		}
	}

	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the underlying file.
func (s *SnapshotWriter) Close() error {
	s.writer.Flush()
	return s.file.Close()
}
