// Package settings owns the persisted runtime configuration document. It is
// the single source of truth for configuration: other components take a
// Snapshot per cycle instead of caching values.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"toribot/models"
	"toribot/utils"
)

// ValidationError marks a rejected settings update. The previously valid
// settings remain in effect.
type ValidationError struct{ msg string }

func (e *ValidationError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Store loads, validates and persists the settings document.
type Store struct {
	path   string
	logger *utils.Logger

	mu      sync.Mutex
	current models.Settings
}

// NewStore loads settings from path, creating the file with defaults when it
// does not exist. Missing keys in an existing file are filled from defaults.
// A file that cannot be created at all is a startup failure.
func NewStore(path string, defaults models.Settings, logger *utils.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, current: defaults}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("[settings] %s not found, creating with defaults", path)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("settings: write defaults: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	default:
		// Unmarshalling over the defaults fills any keys the file omits.
		merged := defaults
		if err := json.Unmarshal(raw, &merged); err != nil {
			logger.Error("[settings] %s is not valid JSON (%v), using defaults", path, err)
			merged = defaults
		}
		if err := Validate(merged); err != nil {
			logger.Error("[settings] %s failed validation (%v), using defaults", path, err)
			merged = defaults
		}
		s.current = merged
	}

	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Masked returns a copy with the API key replaced by the masked sentinel.
func (s *Store) Masked() models.Settings {
	return s.Snapshot().Masked()
}

// Update merges the raw JSON patch over the current settings, validates the
// result and persists it atomically. An empty or masked api_key in the patch
// never overwrites the stored key. On any failure the previous settings stay
// in effect, in memory and on disk.
func (s *Store) Update(patch []byte) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current

	merged := prev
	if err := json.Unmarshal(patch, &merged); err != nil {
		return prev, invalid("settings must be a JSON object: %v", err)
	}
	if merged.OpenAI.APIKey == "" || merged.OpenAI.APIKey == models.MaskedAPIKey {
		merged.OpenAI.APIKey = prev.OpenAI.APIKey
	}

	if err := Validate(merged); err != nil {
		return prev, err
	}

	s.current = merged
	if err := s.save(); err != nil {
		s.current = prev
		return prev, fmt.Errorf("settings: persist: %w", err)
	}

	s.logger.Info("[settings] updated and saved")
	return s.current, nil
}

// Validate checks numeric ranges and required fields. It is exported so
// variant defaults can be checked in tests.
func Validate(v models.Settings) error {
	if v.PollIntervalSeconds < 10 {
		return invalid("poll_interval_seconds must be >= 10")
	}
	if v.RequestTimeoutSeconds < 1 {
		return invalid("request_timeout_seconds must be >= 1")
	}
	if v.MaxRetries < 0 || v.MaxRetries > 10 {
		return invalid("max_retries must be between 0 and 10")
	}
	if v.ProductsPerPage < 1 {
		return invalid("products_per_page must be >= 1")
	}
	if v.ListingURL == "" {
		return invalid("listing_url is required")
	}
	if v.Images.MaxImagesPerItem < 0 || v.Images.MaxImagesPerItem > 20 {
		return invalid("max_images_per_item must be between 0 and 20")
	}
	if v.Server.Port < 1 || v.Server.Port > 65535 {
		return invalid("server port must be between 1 and 65535")
	}
	// Checked regardless of enabled: the valuation loop sleeps on this value,
	// and a zero interval would make it spin.
	if v.OpenAI.ValuationIntervalMinutes < 1 {
		return invalid("openai.valuation_interval_minutes must be >= 1")
	}
	if v.OpenAI.Enabled {
		if v.OpenAI.APIKey == "" {
			return invalid("openai.api_key is required when openai is enabled")
		}
		if v.OpenAI.Model == "" {
			return invalid("openai.model is required when openai is enabled")
		}
	}
	return nil
}

// save writes the current settings atomically: marshal to a temp file in the
// same directory, then rename over the target.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
