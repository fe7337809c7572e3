package storage

import "toribot/models"

// ProductSink is the interface any export backend must satisfy. Sinks are
// mirrors fed by /api/save; the JSON product store stays the source of truth.
type ProductSink interface {
	Export(products []models.Product) error
	Close() error
}
