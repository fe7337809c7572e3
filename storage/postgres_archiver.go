package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"toribot/models"
)

// PostgresArchiver mirrors the product collection into PostgreSQL. It is an
// optional secondary sink behind /api/save; the JSON file remains the
// authoritative store.
type PostgresArchiver struct {
	db *sql.DB
}

// NewPostgresArchiver opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use archiver.
func NewPostgresArchiver(dsn string) (*PostgresArchiver, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	a := &PostgresArchiver{db: db}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return a, nil
}

func (a *PostgresArchiver) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id               TEXT        PRIMARY KEY,
			title            TEXT        NOT NULL DEFAULT '',
			description      TEXT        NOT NULL DEFAULT '',
			location         TEXT        NOT NULL DEFAULT '',
			seller           TEXT        NOT NULL DEFAULT '',
			price            NUMERIC(10,2),
			url              TEXT        NOT NULL DEFAULT '',
			image_files      TEXT        NOT NULL DEFAULT '',
			discovered_at    TIMESTAMPTZ NOT NULL,
			extraction_errors INT        NOT NULL DEFAULT 0,
			valuation_status TEXT        NOT NULL DEFAULT '',
			price_estimate   NUMERIC(10,2),
			price_current    NUMERIC(10,2)
		);

		CREATE INDEX IF NOT EXISTS idx_products_discovered ON products(discovered_at);
		CREATE INDEX IF NOT EXISTS idx_products_location   ON products(location);
	`)
	return err
}

// Export upserts all products, newest state winning.
func (a *PostgresArchiver) Export(products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	const batchSize = 50
	for i := 0; i < len(products); i += batchSize {
		end := i + batchSize
		if end > len(products) {
			end = len(products)
		}
		if err := a.upsertBatch(products[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *PostgresArchiver) upsertBatch(batch []models.Product) error {
	const cols = 13
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, p := range batch {
		base := idx * cols
		placeholders := make([]string, cols)
		for c := 0; c < cols; c++ {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		var status string
		var estimate, current *float64
		if p.Valuation != nil {
			status = string(p.Valuation.Status)
			estimate = p.Valuation.PriceEstimate
			current = p.Valuation.PriceCurrent
		}
		valueArgs = append(valueArgs,
			p.ID, p.Title, p.Description, p.Location, p.Seller, p.Price, p.URL,
			strings.Join(p.ImageFiles, ";"), p.DiscoveredAt, p.ExtractionErrors,
			status, estimate, current)
	}

	query := fmt.Sprintf(`
		INSERT INTO products (id, title, description, location, seller, price, url,
			image_files, discovered_at, extraction_errors,
			valuation_status, price_estimate, price_current)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			seller = EXCLUDED.seller,
			price = EXCLUDED.price,
			url = EXCLUDED.url,
			image_files = EXCLUDED.image_files,
			extraction_errors = EXCLUDED.extraction_errors,
			valuation_status = EXCLUDED.valuation_status,
			price_estimate = EXCLUDED.price_estimate,
			price_current = EXCLUDED.price_current
	`, strings.Join(valueStrings, ","))

	_, err := a.db.Exec(query, valueArgs...)
	return err
}

func (a *PostgresArchiver) Close() error {
	return a.db.Close()
}
