package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration loaded from environment variables.
// Runtime behavior (poll interval, retries, AI credentials) lives in the
// persisted settings document instead; these knobs only decide where the data
// lives and which bot variant runs.
type Config struct {
	Variant string // "annetaan" or "ostetaan"

	DataDir      string
	SettingsFile string
	ProductsFile string
	ImagesDir    string
	DebugDir     string
	ExportPath   string

	// Optional bind overrides; empty means use the persisted settings.
	HostOverride string
	PortOverride int

	// Optional Postgres mirror for /api/save exports.
	PostgresDSN string

	// Minimum spacing between outbound marketplace requests.
	CrawlDelayMs int

	Verbose bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		Variant: getEnv("BOT_VARIANT", "annetaan"),

		DataDir:      dataDir,
		SettingsFile: getEnv("SETTINGS_FILE", filepath.Join(dataDir, "settings.json")),
		ProductsFile: getEnv("PRODUCTS_FILE", filepath.Join(dataDir, "products.json")),
		ImagesDir:    getEnv("IMAGES_DIR", filepath.Join(dataDir, "images")),
		DebugDir:     getEnv("DEBUG_DIR", filepath.Join(dataDir, "debug")),
		ExportPath:   getEnv("EXPORT_CSV_PATH", filepath.Join(dataDir, "products_export.csv")),

		HostOverride: getEnv("HOST", ""),
		PortOverride: getEnvInt("PORT", 0),

		PostgresDSN: getEnv("PG_DSN", ""),

		CrawlDelayMs: getEnvInt("CRAWL_DELAY_MS", 2000),

		Verbose: getEnvBool("VERBOSE", false),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
