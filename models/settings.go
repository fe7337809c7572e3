package models

// MaskedAPIKey is the sentinel returned in place of a stored API key. An
// update carrying this value (or an empty string) leaves the stored key
// untouched.
const MaskedAPIKey = "***MASKED***"

// Settings is the runtime configuration document, persisted as JSON and
// mutated only through the settings store.
type Settings struct {
	PollIntervalSeconds   int            `json:"poll_interval_seconds"`
	ListingURL            string         `json:"listing_url"`
	RequestTimeoutSeconds int            `json:"request_timeout_seconds"`
	MaxRetries            int            `json:"max_retries"`
	ProductsPerPage       int            `json:"products_per_page"`
	RenderJS              bool           `json:"render_js"`
	OpenAI                OpenAISettings `json:"openai"`
	Images                ImageSettings  `json:"images"`
	Server                ServerSettings `json:"server"`
}

// OpenAISettings configures the AI valuation service.
type OpenAISettings struct {
	Enabled                  bool   `json:"enabled"`
	APIKey                   string `json:"api_key"`
	BaseURL                  string `json:"base_url"`
	Model                    string `json:"model"`
	ValuationIntervalMinutes int    `json:"valuation_interval_minutes"`
}

// ImageSettings configures per-listing image downloads.
type ImageSettings struct {
	DownloadEnabled  bool `json:"download_enabled"`
	MaxImagesPerItem int  `json:"max_images_per_item"`
}

// ServerSettings configures the HTTP API bind address.
type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Masked returns a copy safe to hand to API clients: the stored API key is
// replaced with the sentinel when present.
func (s Settings) Masked() Settings {
	if s.OpenAI.APIKey != "" {
		s.OpenAI.APIKey = MaskedAPIKey
	}
	return s
}

// AIEnabled reports whether valuation is switched on and usable.
func (s Settings) AIEnabled() bool {
	return s.OpenAI.Enabled && s.OpenAI.APIKey != ""
}
