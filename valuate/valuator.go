// Package valuate asks an AI completion service for a price assessment of a
// listing. The prompt wording is injected per bot variant; the response is
// stored verbatim with structured prices parsed out best-effort.
package valuate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"toribot/models"
	"toribot/utils"
)

// PromptBuilder turns a product into the system and user messages for the
// completion request. This is the seam that differs between bot variants.
type PromptBuilder func(p models.Product) (system string, user string)

var (
	// Structured price lines the prompts ask the model to emit.
	priceNewPattern     = regexp.MustCompile(`(?i)HINTA_UUTENA:\s*(\d+)€?`)
	priceCurrentPattern = regexp.MustCompile(`(?i)ARVO_NYT:\s*(\d+)€?`)
	// Legacy single-price format, kept for older prompt wordings.
	priceLegacyPattern = regexp.MustCompile(`(?i)ARVO:\s*(\d+)€?`)
)

// Valuator calls the chat-completion API with a variant-specific prompt.
type Valuator struct {
	prompt PromptBuilder
	logger *utils.Logger
}

// New creates a Valuator using the given prompt builder.
func New(prompt PromptBuilder, logger *utils.Logger) *Valuator {
	return &Valuator{prompt: prompt, logger: logger}
}

// Valuate requests a valuation for p using the credentials in cfg. It always
// returns a terminal valuation: completed with the response text, or failed
// with the error detail preserved. No numeric fields are fabricated.
func (v *Valuator) Valuate(ctx context.Context, p models.Product, cfg models.OpenAISettings) models.Valuation {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	system, user := v.prompt(p)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		v.logger.Error("[valuate] %s: %v", p.ID, err)
		return models.Valuation{
			Status:     models.ValuationFailed,
			Response:   err.Error(),
			Model:      cfg.Model,
			ValuatedAt: time.Now(),
		}
	}

	if len(resp.Choices) == 0 {
		return models.Valuation{
			Status:     models.ValuationFailed,
			Response:   "completion returned no choices",
			Model:      cfg.Model,
			ValuatedAt: time.Now(),
		}
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)

	estimate := parsePrice(text, priceNewPattern)
	current := parsePrice(text, priceCurrentPattern)
	if current == nil {
		current = parsePrice(text, priceLegacyPattern)
	}

	return models.Valuation{
		Status:        models.ValuationCompleted,
		Response:      text,
		PriceEstimate: estimate,
		PriceCurrent:  current,
		Model:         cfg.Model,
		ValuatedAt:    time.Now(),
	}
}

// parsePrice pulls the first numeric match for pattern out of the response
// text. Absence is not an error; structured prices are best-effort.
func parsePrice(text string, pattern *regexp.Regexp) *float64 {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &val
}

// Describe renders the product fields shared by every prompt variant.
func Describe(p models.Product) string {
	price := "N/A"
	if p.Price != nil {
		price = fmt.Sprintf("%.0f €", *p.Price)
	}
	return fmt.Sprintf("Title: %s\nDescription: %s\nLocation: %s\nPrice: %s",
		orNA(p.Title), orNA(p.Description), orNA(p.Location), price)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
