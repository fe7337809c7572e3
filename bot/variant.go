package bot

import (
	"fmt"
	"strings"

	"toribot/models"
	"toribot/valuate"
)

// Variant describes one bot flavor: which search it polls, its default
// configuration, and how valuation prompts are worded. The two flavors share
// every other behavior, so a Variant is plain data plus one function.
type Variant struct {
	Name                string
	Slug                string
	ListingURL          string
	DefaultPort         int
	DefaultPollInterval int // seconds
	Prompt              valuate.PromptBuilder
}

// Annetaan monitors free-item ("annetaan") listings.
func Annetaan() Variant {
	return Variant{
		Name:                "Toribot",
		Slug:                "annetaan",
		ListingURL:          "https://www.tori.fi/recommerce/forsale/search?sort=PUBLISHED_DESC&trade_type=2",
		DefaultPort:         8788,
		DefaultPollInterval: 60,
		Prompt:              annetaanPrompt,
	}
}

// Ostetaan monitors wanted-to-buy ("ostetaan") listings.
func Ostetaan() Variant {
	return Variant{
		Name:                "Ostobotti",
		Slug:                "ostetaan",
		ListingURL:          "https://www.tori.fi/recommerce/forsale/search?sort=PUBLISHED_DESC&trade_type=3",
		DefaultPort:         8789,
		DefaultPollInterval: 120,
		Prompt:              ostetaanPrompt,
	}
}

// VariantBySlug resolves a variant name from configuration.
func VariantBySlug(slug string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case "", "annetaan", "toribot":
		return Annetaan(), nil
	case "ostetaan", "ostobotti":
		return Ostetaan(), nil
	default:
		return Variant{}, fmt.Errorf("unknown bot variant %q", slug)
	}
}

// DefaultSettings returns the initial settings document for this variant.
func (v Variant) DefaultSettings() models.Settings {
	return models.Settings{
		PollIntervalSeconds:   v.DefaultPollInterval,
		ListingURL:            v.ListingURL,
		RequestTimeoutSeconds: 15,
		MaxRetries:            2,
		ProductsPerPage:       50,
		OpenAI: models.OpenAISettings{
			Enabled:                  false,
			BaseURL:                  "https://api.openai.com/v1",
			Model:                    "gpt-4o-mini",
			ValuationIntervalMinutes: 60,
		},
		Images: models.ImageSettings{
			DownloadEnabled:  true,
			MaxImagesPerItem: 5,
		},
		Server: models.ServerSettings{
			Host: "127.0.0.1",
			Port: v.DefaultPort,
		},
	}
}

func annetaanPrompt(p models.Product) (string, string) {
	system := "You are a helpful assistant that evaluates free secondhand items " +
		"from a Finnish marketplace."
	user := fmt.Sprintf(`Analyze this free item listing from Tori.fi and provide a brief valuation:

%s

Provide:
1. Estimated market value (if sold)
2. Condition assessment
3. Key pros/cons
4. Worth picking up? (Yes/No/Maybe)

Be concise (max 100 words). End with exactly two lines:
HINTA_UUTENA: <price as new in euros, number only>
ARVO_NYT: <current resale value in euros, number only>`, valuate.Describe(p))
	return system, user
}

func ostetaanPrompt(p models.Product) (string, string) {
	system := "You are a helpful assistant that evaluates wanted-to-buy ads " +
		"from a Finnish marketplace. The poster wants to buy the described item."
	user := fmt.Sprintf(`Analyze this wanted ad from Tori.fi and assess the request:

%s

Provide:
1. What the requested item typically costs
2. A fair price to offer the poster
3. How easy it is to source
4. Worth responding? (Yes/No/Maybe)

Be concise (max 100 words). End with exactly two lines:
HINTA_UUTENA: <typical price as new in euros, number only>
ARVO_NYT: <fair secondhand price in euros, number only>`, valuate.Describe(p))
	return system, user
}
