// Package metrics wires Prometheus instrumentation for the bot's pipeline.
// Each Metrics value carries its own registry so tests can construct them
// freely without duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters exposed at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	FetchAttempts      prometheus.Counter
	FetchRetries       prometheus.Counter
	FetchFailures      prometheus.Counter
	ProductsDiscovered prometheus.Counter
	ImagesDownloaded   prometheus.Counter
	PollPasses         prometheus.Counter
	ValuationPasses    prometheus.Counter
	ValuationsOK       prometheus.Counter
	ValuationsFailed   prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_fetch_attempts_total",
			Help: "Outbound HTTP request attempts, including retries.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_fetch_retries_total",
			Help: "Retried HTTP request attempts.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_fetch_failures_total",
			Help: "Fetches that failed after exhausting retries.",
		}),
		ProductsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_products_discovered_total",
			Help: "New listings added to the product store.",
		}),
		ImagesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_images_downloaded_total",
			Help: "Listing images stored locally.",
		}),
		PollPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_poll_passes_total",
			Help: "Completed poll cycles.",
		}),
		ValuationPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_valuation_passes_total",
			Help: "Completed valuation passes.",
		}),
		ValuationsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_valuations_completed_total",
			Help: "Products valuated successfully.",
		}),
		ValuationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "toribot_valuations_failed_total",
			Help: "Valuation attempts that ended in failure.",
		}),
	}

	reg.MustRegister(
		m.FetchAttempts, m.FetchRetries, m.FetchFailures,
		m.ProductsDiscovered, m.ImagesDownloaded,
		m.PollPasses, m.ValuationPasses,
		m.ValuationsOK, m.ValuationsFailed,
	)
	return m
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
