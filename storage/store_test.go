package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"toribot/models"
	"toribot/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger(false) }

func newTestStore(t *testing.T) (*ProductStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.json")
	s, err := NewProductStore(path, newTestLogger())
	if err != nil {
		t.Fatalf("NewProductStore: %v", err)
	}
	return s, path
}

func floatPtr(v float64) *float64 { return &v }

func TestNewProductStoreMissingFileStartsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if s.Len() != 0 {
		t.Errorf("Len() = %d; want 0", s.Len())
	}
}

func TestNewProductStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewProductStore(path, newTestLogger()); err == nil {
		t.Error("expected startup error for unparseable database")
	}
}

func TestUpsertInsertSetsTimestamps(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Upsert(models.Product{ID: "123", Title: "Sohva"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	p, ok := s.Get("123")
	if !ok {
		t.Fatal("product not found after insert")
	}
	if p.DiscoveredAt.IsZero() {
		t.Error("DiscoveredAt should be set on insert")
	}
	if p.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on insert")
	}
}

func TestUpsertMergePreservesDiscoveredAtAndValuation(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Upsert(models.Product{ID: "123", Title: "Sohva", Location: "Espoo"}); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Get("123")

	val := models.Valuation{Status: models.ValuationCompleted, Response: "ok"}
	if err := s.MarkValuation("123", val); err != nil {
		t.Fatal(err)
	}

	// Second sighting: only some fields supplied.
	if err := s.Upsert(models.Product{ID: "123", Title: "Sohva (päivitetty)", Price: floatPtr(10)}); err != nil {
		t.Fatal(err)
	}

	p, _ := s.Get("123")
	if !p.DiscoveredAt.Equal(first.DiscoveredAt) {
		t.Error("DiscoveredAt changed on merge")
	}
	if p.Valuation == nil || p.Valuation.Response != "ok" {
		t.Error("valuation lost on merge")
	}
	if p.Title != "Sohva (päivitetty)" {
		t.Errorf("Title = %q; supplied field should update", p.Title)
	}
	if p.Location != "Espoo" {
		t.Errorf("Location = %q; omitted field should be preserved", p.Location)
	}
	if p.Price == nil || *p.Price != 10 {
		t.Errorf("Price = %v; want 10", p.Price)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d; duplicate id must not create a second record", s.Len())
	}
}

func TestUpsertRequiresID(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Upsert(models.Product{Title: "ei tunnistetta"}); err == nil {
		t.Error("expected error for product without id")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	s, err := NewProductStore(path, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Upsert(models.Product{ID: "1", Title: "Pyörä", Price: floatPtr(50)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(models.Product{ID: "2", Title: "Sohva"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewProductStore(path, newTestLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len() = %d; want 2", reloaded.Len())
	}
	p, ok := reloaded.Get("1")
	if !ok || p.Title != "Pyörä" || p.Price == nil || *p.Price != 50 {
		t.Errorf("reloaded product mismatch: %+v", p)
	}
}

func TestUpsertRollsBackOnPersistFailure(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Upsert(models.Product{ID: "1", Title: "Pyörä"}); err != nil {
		t.Fatal(err)
	}

	// Make the target path un-renameable by turning it into a directory.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.MkdirAll(filepath.Join(blocked, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	s.path = blocked

	if err := s.Upsert(models.Product{ID: "2", Title: "Sohva"}); err == nil {
		t.Fatal("expected persist failure")
	}
	if s.Exists("2") {
		t.Error("failed insert should be rolled back from memory")
	}
	if err := s.Upsert(models.Product{ID: "1", Title: "Muutettu"}); err == nil {
		t.Fatal("expected persist failure")
	}
	if p, _ := s.Get("1"); p.Title != "Pyörä" {
		t.Errorf("failed merge should be rolled back, Title = %q", p.Title)
	}
}

func TestListNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)

	old := time.Now().Add(-time.Hour)
	if err := s.Upsert(models.Product{ID: "1", DiscoveredAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(models.Product{ID: "2"}); err != nil {
		t.Fatal(err)
	}

	got := s.List()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "1" {
		t.Errorf("List() order = %v; want newest first", []string{got[0].ID, got[1].ID})
	}
}

func TestNeedingValuationSelection(t *testing.T) {
	s, _ := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	seed := []struct {
		id     string
		status models.ValuationStatus
		has    bool
	}{
		{"1", "", false},
		{"2", models.ValuationCompleted, true},
		{"3", models.ValuationFailed, true},
		{"4", models.ValuationQueued, true},
		{"5", models.ValuationRunning, true},
	}
	for i, item := range seed {
		p := models.Product{ID: item.id, DiscoveredAt: base.Add(time.Duration(i) * time.Minute)}
		if item.has {
			p.Valuation = &models.Valuation{Status: item.status}
		}
		if err := s.Upsert(p); err != nil {
			t.Fatal(err)
		}
	}

	got := s.NeedingValuation()
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	// No valuation, failed and queued need work; completed and running do not.
	want := []string{"1", "3", "4"}
	if len(ids) != len(want) {
		t.Fatalf("NeedingValuation ids = %v; want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("NeedingValuation ids = %v; want %v (oldest first)", ids, want)
		}
	}
}

func TestMarkValuationUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.MarkValuation("404", models.Valuation{Status: models.ValuationCompleted})
	if err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)

	products := []models.Product{
		{ID: "1", Location: "Helsinki", ImageFiles: []string{"1_0.jpg"},
			Valuation: &models.Valuation{Status: models.ValuationCompleted, PriceCurrent: floatPtr(20)}},
		{ID: "2", Location: "Helsinki",
			Valuation: &models.Valuation{Status: models.ValuationCompleted, PriceCurrent: floatPtr(40)}},
		{ID: "3", Location: "Espoo",
			Valuation: &models.Valuation{Status: models.ValuationFailed}},
		{ID: "4", ExtractionErrors: 2},
	}
	for _, p := range products {
		if err := s.Upsert(p); err != nil {
			t.Fatal(err)
		}
	}

	r := s.Stats()
	if r.TotalProducts != 4 {
		t.Errorf("TotalProducts = %d; want 4", r.TotalProducts)
	}
	if r.Valuated != 2 || r.FailedValuation != 1 || r.PendingValuation != 1 {
		t.Errorf("valuation counts = %d/%d/%d; want 2/1/1",
			r.Valuated, r.FailedValuation, r.PendingValuation)
	}
	if r.WithImages != 1 {
		t.Errorf("WithImages = %d; want 1", r.WithImages)
	}
	if r.ExtractionErrors != 2 {
		t.Errorf("ExtractionErrors = %d; want 2", r.ExtractionErrors)
	}
	if r.AverageEstimate != 30 {
		t.Errorf("AverageEstimate = %.2f; want 30", r.AverageEstimate)
	}
	if r.MaxEstimate != 40 {
		t.Errorf("MaxEstimate = %.2f; want 40", r.MaxEstimate)
	}
	if r.ProductsByLocation["Helsinki"] != 2 {
		t.Errorf("ProductsByLocation[Helsinki] = %d; want 2", r.ProductsByLocation["Helsinki"])
	}
}
