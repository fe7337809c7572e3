package models

import "time"

// ValuationStatus tracks the lifecycle of an AI valuation for one product.
type ValuationStatus string

const (
	ValuationQueued    ValuationStatus = "queued"
	ValuationRunning   ValuationStatus = "running"
	ValuationCompleted ValuationStatus = "completed"
	ValuationFailed    ValuationStatus = "failed"
)

// Valuation holds the result of one AI valuation attempt. PriceEstimate is
// the model's estimate of the item's price as new, PriceCurrent its estimate
// of the current resale value. Both are best-effort and may be absent.
type Valuation struct {
	Status        ValuationStatus `json:"status"`
	Response      string          `json:"response"`
	PriceEstimate *float64        `json:"price_estimate"`
	PriceCurrent  *float64        `json:"price_current"`
	Model         string          `json:"model,omitempty"`
	ValuatedAt    time.Time       `json:"valuated_at,omitempty"`
}

// Product is one discovered marketplace listing. ID is the path segment of
// the listing URL and is the primary key of the product store.
type Product struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Location         string     `json:"location"`
	Seller           string     `json:"seller"`
	Price            *float64   `json:"price"`
	URL              string     `json:"url"`
	ImageURLs        []string   `json:"images,omitempty"`
	ImageFiles       []string   `json:"image_files"`
	DiscoveredAt     time.Time  `json:"discovered_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExtractionErrors int        `json:"extraction_errors"`
	Valuation        *Valuation `json:"valuation,omitempty"`
}

// NeedsValuation reports whether the product should be picked up by the next
// valuation pass. Completed valuations are not re-attempted; failed ones are.
func (p *Product) NeedsValuation() bool {
	if p.Valuation == nil {
		return true
	}
	switch p.Valuation.Status {
	case ValuationQueued, ValuationFailed:
		return true
	default:
		return false
	}
}

// StatsReport summarizes the product store for the health endpoint.
type StatsReport struct {
	TotalProducts      int            `json:"total_products"`
	Valuated           int            `json:"valuated"`
	PendingValuation   int            `json:"pending_valuation"`
	FailedValuation    int            `json:"failed_valuation"`
	WithImages         int            `json:"with_images"`
	ExtractionErrors   int            `json:"extraction_errors"`
	AverageEstimate    float64        `json:"average_estimate"`
	MaxEstimate        float64        `json:"max_estimate"`
	ProductsByLocation map[string]int `json:"products_by_location"`
}
