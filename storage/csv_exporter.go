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

	"toribot/models"
)

// CSVExporter writes the product collection to a CSV file. Each Export
// rewrites the whole file so it always mirrors the current store.
// It is safe for concurrent use.
type CSVExporter struct {
	mu   sync.Mutex
	path string
}

// NewCSVExporter creates an exporter targeting path. Intermediate directories
// are created automatically on first export.
func NewCSVExporter(path string) *CSVExporter {
	return &CSVExporter{path: path}
}

// Export writes all products to the CSV file, truncating any previous data.
func (c *CSVExporter) Export(products []models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", c.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"id", "title", "description", "location", "seller", "price", "url",
		"image_files", "discovered_at", "extraction_errors",
		"valuation_status", "price_estimate", "price_current",
	}); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, p := range products {
		row := []string{
			p.ID,
			p.Title,
			p.Description,
			p.Location,
			p.Seller,
			formatPrice(p.Price),
			p.URL,
			strings.Join(p.ImageFiles, ";"),
			p.DiscoveredAt.Format(time.RFC3339),
			strconv.Itoa(p.ExtractionErrors),
			valuationStatus(p.Valuation),
			valuationPrice(p.Valuation, func(v *models.Valuation) *float64 { return v.PriceEstimate }),
			valuationPrice(p.Valuation, func(v *models.Valuation) *float64 { return v.PriceCurrent }),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// Close is a no-op; the file is opened and closed per export.
func (c *CSVExporter) Close() error { return nil }

func formatPrice(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func valuationStatus(v *models.Valuation) string {
	if v == nil {
		return ""
	}
	return string(v.Status)
}

func valuationPrice(v *models.Valuation, pick func(*models.Valuation) *float64) string {
	if v == nil {
		return ""
	}
	return formatPrice(pick(v))
}
