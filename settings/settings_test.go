package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"toribot/models"
	"toribot/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger(false) }

func testDefaults() models.Settings {
	return models.Settings{
		PollIntervalSeconds:   60,
		ListingURL:            "https://www.tori.fi/search?trade_type=2",
		RequestTimeoutSeconds: 15,
		MaxRetries:            2,
		ProductsPerPage:       50,
		OpenAI: models.OpenAISettings{
			BaseURL:                  "https://api.openai.com/v1",
			Model:                    "gpt-4o-mini",
			ValuationIntervalMinutes: 60,
		},
		Images: models.ImageSettings{DownloadEnabled: true, MaxImagesPerItem: 5},
		Server: models.ServerSettings{Host: "127.0.0.1", Port: 8788},
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewStore(path, testDefaults(), newTestLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, path
}

func TestNewStoreCreatesFileWithDefaults(t *testing.T) {
	s, path := newTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}
	if got := s.Snapshot(); got.PollIntervalSeconds != 60 {
		t.Errorf("PollIntervalSeconds = %d; want 60", got.PollIntervalSeconds)
	}
}

func TestNewStoreMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"poll_interval_seconds": 120}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path, testDefaults(), newTestLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	got := s.Snapshot()
	if got.PollIntervalSeconds != 120 {
		t.Errorf("PollIntervalSeconds = %d; want 120 from file", got.PollIntervalSeconds)
	}
	if got.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d; want default 2 for omitted key", got.MaxRetries)
	}
}

func TestNewStoreFallsBackOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path, testDefaults(), newTestLogger())
	if err != nil {
		t.Fatalf("NewStore should not fail on corrupt settings: %v", err)
	}
	if got := s.Snapshot(); got.PollIntervalSeconds != 60 {
		t.Errorf("expected defaults after corrupt file, got %+v", got)
	}
}

func TestUpdateMergesPartialPatch(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Update([]byte(`{"max_retries": 5, "openai": {"model": "gpt-4o"}}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d; want 5", got.MaxRetries)
	}
	if got.OpenAI.Model != "gpt-4o" {
		t.Errorf("OpenAI.Model = %q; want gpt-4o", got.OpenAI.Model)
	}
	if got.PollIntervalSeconds != 60 {
		t.Errorf("PollIntervalSeconds = %d; untouched key should keep its value", got.PollIntervalSeconds)
	}
}

func TestUpdateRejectsInvalidAndKeepsPrevious(t *testing.T) {
	s, path := newTestStore(t)

	_, err := s.Update([]byte(`{"poll_interval_seconds": 1}`))
	if err == nil {
		t.Fatal("expected validation error for poll_interval_seconds < 10")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	if got := s.Snapshot(); got.PollIntervalSeconds != 60 {
		t.Errorf("in-memory settings changed after rejected update: %d", got.PollIntervalSeconds)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk models.Settings
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.PollIntervalSeconds != 60 {
		t.Errorf("on-disk settings changed after rejected update: %d", onDisk.PollIntervalSeconds)
	}
}

func TestUpdateRejectsNonObjectPatch(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Update([]byte(`"just a string"`)); err == nil {
		t.Error("expected error for non-object patch")
	}
}

func TestUpdateEmptyAPIKeyKeepsStoredKey(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Update([]byte(`{"openai": {"api_key": "sk-secret"}}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tests := []struct {
		name  string
		patch string
	}{
		{"empty key", `{"openai": {"api_key": ""}}`},
		{"masked key", `{"openai": {"api_key": "` + models.MaskedAPIKey + `"}}`},
		{"key omitted", `{"max_retries": 3}`},
	}

	for _, tt := range tests {
		if _, err := s.Update([]byte(tt.patch)); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := s.Snapshot().OpenAI.APIKey; got != "sk-secret" {
			t.Errorf("%s: APIKey = %q; want stored key preserved", tt.name, got)
		}
	}
}

func TestMaskedNeverExposesKey(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Update([]byte(`{"openai": {"api_key": "sk-secret"}}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	masked := s.Masked()
	if masked.OpenAI.APIKey != models.MaskedAPIKey {
		t.Errorf("Masked APIKey = %q; want %q", masked.OpenAI.APIKey, models.MaskedAPIKey)
	}
	if s.Snapshot().OpenAI.APIKey != "sk-secret" {
		t.Error("Masked() must not modify the stored key")
	}
}

func TestMaskedEmptyKeyStaysEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.Masked().OpenAI.APIKey; got != "" {
		t.Errorf("Masked APIKey = %q; want empty when no key is set", got)
	}
}

func TestValidateValuationIntervalRegardlessOfEnabled(t *testing.T) {
	v := testDefaults()
	v.OpenAI.Enabled = false
	v.OpenAI.ValuationIntervalMinutes = 0
	if err := Validate(v); err == nil {
		t.Error("expected validation error for zero valuation interval even when openai is disabled")
	}
}

func TestUpdateRejectsZeroValuationInterval(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Update([]byte(`{"openai": {"valuation_interval_minutes": 0}}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if got := s.Snapshot().OpenAI.ValuationIntervalMinutes; got != 60 {
		t.Errorf("ValuationIntervalMinutes = %d; rejected update must keep the previous value", got)
	}
}

func TestValidateEnabledOpenAIRequiresKey(t *testing.T) {
	v := testDefaults()
	v.OpenAI.Enabled = true
	if err := Validate(v); err == nil {
		t.Error("expected validation error when openai enabled without api_key")
	}
	v.OpenAI.APIKey = "sk-x"
	if err := Validate(v); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
