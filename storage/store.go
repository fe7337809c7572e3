// Package storage owns the product collection and its on-disk JSON
// representation, plus the optional export sinks fed by /api/save.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"toribot/models"
	"toribot/utils"
)

// ErrNotFound is returned when an operation references an unknown product id.
var ErrNotFound = errors.New("product not found")

// ProductStore is a thread-safe, file-backed collection of product records
// with dedup-by-id semantics. Every mutation holds the store lock around the
// whole read-modify-write-persist cycle and rewrites the file atomically.
type ProductStore struct {
	path   string
	logger *utils.Logger

	mu    sync.Mutex
	items map[string]*models.Product
}

// NewProductStore loads the database from path or starts empty when the file
// does not exist. A file that exists but cannot be parsed is a startup
// failure: silently discarding a product database is worse than refusing to
// start.
func NewProductStore(path string, logger *utils.Logger) (*ProductStore, error) {
	s := &ProductStore{path: path, logger: logger, items: make(map[string]*models.Product)}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("[store] %s not found, starting with empty database", path)
	case err != nil:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(raw, &s.items); err != nil {
			return nil, fmt.Errorf("store: parse %s: %w", path, err)
		}
		logger.Info("[store] loaded %d products from %s", len(s.items), path)
	}

	return s, nil
}

// Exists reports whether a product with the given id is stored.
func (s *ProductStore) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Get returns a copy of the stored product.
func (s *ProductStore) Get(id string) (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

// Len returns the number of stored products.
func (s *ProductStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Upsert inserts p, or merges it into the existing record with the same id.
// On merge only the fields the caller supplies are updated; DiscoveredAt and
// any previously stored valuation are preserved unless the caller provides a
// replacement. A persistence failure leaves the in-memory state unchanged and
// is retryable.
func (s *ProductStore) Upsert(p models.Product) error {
	if p.ID == "" {
		return errors.New("store: product id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	prev, existed := s.items[p.ID]

	var next models.Product
	if existed {
		next = *prev
		if p.Title != "" {
			next.Title = p.Title
		}
		if p.Description != "" {
			next.Description = p.Description
		}
		if p.Location != "" {
			next.Location = p.Location
		}
		if p.Seller != "" {
			next.Seller = p.Seller
		}
		if p.Price != nil {
			next.Price = p.Price
		}
		if p.URL != "" {
			next.URL = p.URL
		}
		if p.ImageURLs != nil {
			next.ImageURLs = p.ImageURLs
		}
		if p.ImageFiles != nil {
			next.ImageFiles = p.ImageFiles
		}
		if p.ExtractionErrors != 0 {
			next.ExtractionErrors = p.ExtractionErrors
		}
		if p.Valuation != nil {
			next.Valuation = p.Valuation
		}
	} else {
		next = p
		if next.DiscoveredAt.IsZero() {
			next.DiscoveredAt = now
		}
		if next.ImageFiles == nil {
			next.ImageFiles = []string{}
		}
	}
	next.UpdatedAt = now

	s.items[p.ID] = &next
	if err := s.persistLocked(); err != nil {
		if existed {
			s.items[p.ID] = prev
		} else {
			delete(s.items, p.ID)
		}
		return err
	}
	return nil
}

// List returns copies of all products, newest first.
func (s *ProductStore) List() []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// NeedingValuation returns copies of all products without a completed or
// running valuation, oldest first so early discoveries are valuated first.
func (s *ProductStore) NeedingValuation() []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Product
	for _, p := range s.items {
		if p.NeedsValuation() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkValuation records a valuation result for the product.
func (s *ProductStore) MarkValuation(id string, v models.Valuation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[id]
	if !ok {
		return fmt.Errorf("store: mark valuation %s: %w", id, ErrNotFound)
	}

	next := *prev
	next.Valuation = &v
	next.UpdatedAt = time.Now()

	s.items[id] = &next
	if err := s.persistLocked(); err != nil {
		s.items[id] = prev
		return err
	}
	return nil
}

// SetValuationStatus moves the product's valuation to the given state,
// keeping any previous response fields.
func (s *ProductStore) SetValuationStatus(id string, status models.ValuationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[id]
	if !ok {
		return fmt.Errorf("store: set valuation status %s: %w", id, ErrNotFound)
	}

	next := *prev
	var v models.Valuation
	if prev.Valuation != nil {
		v = *prev.Valuation
	}
	v.Status = status
	next.Valuation = &v
	next.UpdatedAt = time.Now()

	s.items[id] = &next
	if err := s.persistLocked(); err != nil {
		s.items[id] = prev
		return err
	}
	return nil
}

// Stats computes an aggregate snapshot for the health endpoint.
func (s *ProductStore) Stats() models.StatsReport {
	report := models.StatsReport{ProductsByLocation: make(map[string]int)}

	var estimateSum float64
	var estimateCount int

	for _, p := range s.List() {
		report.TotalProducts++
		report.ExtractionErrors += p.ExtractionErrors
		if len(p.ImageFiles) > 0 {
			report.WithImages++
		}
		if p.Location != "" {
			report.ProductsByLocation[p.Location]++
		}
		if p.Valuation == nil {
			report.PendingValuation++
			continue
		}
		switch p.Valuation.Status {
		case models.ValuationCompleted:
			report.Valuated++
			if p.Valuation.PriceCurrent != nil {
				estimateSum += *p.Valuation.PriceCurrent
				estimateCount++
				if *p.Valuation.PriceCurrent > report.MaxEstimate {
					report.MaxEstimate = *p.Valuation.PriceCurrent
				}
			}
		case models.ValuationFailed:
			report.FailedValuation++
		default:
			report.PendingValuation++
		}
	}

	if estimateCount > 0 {
		report.AverageEstimate = float64(int(estimateSum/float64(estimateCount)*100)) / 100
	}
	return report
}

// persistLocked rewrites the database file atomically: write to a temp file
// in the same directory, then rename over the target. Callers must hold mu.
func (s *ProductStore) persistLocked() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".products-*.json")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}
