// Package bot owns the two background loops of the pipeline: polling the
// marketplace for new listings and valuating stored listings. Both loops are
// single-flight with themselves; manual triggers join the same locks.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"toribot/extract"
	"toribot/fetch"
	"toribot/images"
	"toribot/metrics"
	"toribot/models"
	"toribot/settings"
	"toribot/storage"
	"toribot/utils"
	"toribot/valuate"
)

// ErrPassInProgress is returned when a manual trigger finds the matching
// loop already mid-cycle. Callers treat it as a no-op, never as a reason to
// spawn a second concurrent pass.
var ErrPassInProgress = errors.New("a pass is already in progress")

// Config wires a Bot together. Everything is injected so tests can run the
// bot against httptest servers and temp directories.
type Config struct {
	Variant  Variant
	Settings *settings.Store
	Store    *storage.ProductStore
	Fetcher  fetch.PageFetcher
	Browser  fetch.PageFetcher // optional; used when render_js is enabled
	Images   *images.Downloader
	Valuator *valuate.Valuator
	Metrics  *metrics.Metrics
	Logger   *utils.Logger

	// DebugDir, when set, receives the search page body whenever id
	// extraction comes up empty.
	DebugDir string

	// MaxJitter bounds the randomized pre-request delay. Tests set 0.
	MaxJitter time.Duration

	// ValuationDelay spaces consecutive AI calls within a pass.
	ValuationDelay time.Duration
}

// Bot coordinates the poll loop and the valuation loop over shared stores.
type Bot struct {
	cfg    Config
	logger *utils.Logger

	pollMu sync.Mutex
	valMu  sync.Mutex

	pollPasses uint64
	valPasses  uint64

	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// New creates a Bot. Start must be called to launch the background loops;
// the manual-trigger methods work without Start.
func New(cfg Config) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		cfg:    cfg,
		logger: cfg.Logger,
		runCtx: ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
}

// Start launches the polling and valuation loops.
func (b *Bot) Start() {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("[bot] already running")
		return
	}

	b.wg.Add(2)
	go b.pollLoop()
	go b.valuationLoop()

	b.logger.Info("[bot] %s started", b.cfg.Variant.Name)
}

// Stop halts scheduling and waits for any in-flight cycle to finish its
// current item. In-flight HTTP requests are allowed to finish or time out
// naturally; nothing is aborted mid-write.
func (b *Bot) Stop() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}

	b.logger.Info("[bot] stopping...")
	close(b.stopCh)
	b.wg.Wait()
	b.cancel()
	b.logger.Info("[bot] stopped")
}

func (b *Bot) stopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// PollPasses returns the number of completed poll cycles.
func (b *Bot) PollPasses() uint64 { return atomic.LoadUint64(&b.pollPasses) }

// ValuationPasses returns the number of completed valuation passes.
func (b *Bot) ValuationPasses() uint64 { return atomic.LoadUint64(&b.valPasses) }

// Polling

func (b *Bot) pollLoop() {
	defer b.wg.Done()
	b.logger.Info("[bot] polling loop started")

	for {
		if _, err := b.PollOnce(b.runCtx); err != nil && !errors.Is(err, ErrPassInProgress) {
			b.logger.Error("[bot] poll cycle: %v", err)
		}

		interval := time.Duration(b.cfg.Settings.Snapshot().PollIntervalSeconds) * time.Second
		select {
		case <-b.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// PollOnce runs a single poll cycle: fetch the search page, extract candidate
// ids, and ingest every id not already in the store. Returns the number of
// new products. Single-flight: a concurrent call is rejected.
func (b *Bot) PollOnce(ctx context.Context) (int, error) {
	if !b.pollMu.TryLock() {
		return 0, ErrPassInProgress
	}
	defer b.pollMu.Unlock()

	added, err := b.pollPage(ctx, 1)
	if err != nil {
		return added, err
	}

	atomic.AddUint64(&b.pollPasses, 1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.PollPasses.Inc()
	}
	return added, nil
}

// FetchPages walks enough search pages to cover roughly numProducts listings
// and ingests every new id found. Shares the poll single-flight lock.
func (b *Bot) FetchPages(ctx context.Context, numProducts int) (int, error) {
	if !b.pollMu.TryLock() {
		return 0, ErrPassInProgress
	}
	defer b.pollMu.Unlock()

	snap := b.cfg.Settings.Snapshot()
	perPage := snap.ProductsPerPage
	pages := (numProducts + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}

	b.logger.Info("[bot] fetching ~%d products across %d pages", numProducts, pages)

	total := 0
	for page := 1; page <= pages; page++ {
		added, err := b.pollPage(ctx, page)
		total += added
		if err != nil {
			b.logger.Error("[bot] page %d: %v", page, err)
		}
		if b.stopping() || ctx.Err() != nil {
			break
		}
	}

	atomic.AddUint64(&b.pollPasses, 1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.PollPasses.Inc()
	}
	return total, nil
}

// pollPage ingests one search-result page. Callers hold pollMu.
func (b *Bot) pollPage(ctx context.Context, page int) (int, error) {
	snap := b.cfg.Settings.Snapshot()
	opts := b.fetchOptions(snap)
	pf := b.pageFetcher(snap)

	url := extract.SearchPageURL(snap.ListingURL, page)
	b.logger.Info("[bot] polling %s", url)

	_, body, err := pf.Get(ctx, url, opts)
	if err != nil {
		return 0, fmt.Errorf("search page: %w", err)
	}

	ids := extract.IDs(body)
	b.logger.Info("[bot] found %d listing ids", len(ids))
	if len(ids) == 0 {
		b.dumpDebugPage(body)
		return 0, nil
	}

	added := 0
	for _, id := range ids {
		if b.stopping() || ctx.Err() != nil {
			break
		}
		if b.cfg.Store.Exists(id) {
			continue
		}

		if err := b.ingestListing(ctx, id, snap, opts, pf); err != nil {
			// One listing failing never aborts the cycle.
			b.logger.Error("[bot] listing %s: %v", id, err)
			continue
		}
		added++
	}

	if added > 0 {
		b.logger.Info("[bot] added %d new products", added)
	}
	return added, nil
}

// ingestListing fetches, extracts and stores a single new listing.
func (b *Bot) ingestListing(ctx context.Context, id string, snap models.Settings, opts fetch.Options, pf fetch.PageFetcher) error {
	url := extract.ItemURL(id)
	_, body, err := pf.Get(ctx, url, opts)
	if err != nil {
		return fmt.Errorf("detail page: %w", err)
	}

	d := extract.DetailFromHTML(body)
	product := models.Product{
		ID:               id,
		Title:            d.Title,
		Description:      d.Description,
		Location:         d.Location,
		Seller:           d.Seller,
		Price:            d.Price,
		URL:              url,
		ImageURLs:        d.ImageURLs,
		ExtractionErrors: d.Errors,
	}

	if snap.Images.DownloadEnabled && b.cfg.Images != nil {
		files := b.cfg.Images.Download(ctx, id, d.ImageURLs, snap.Images.MaxImagesPerItem, opts)
		product.ImageFiles = files
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.ImagesDownloaded.Add(float64(len(files)))
		}
	}

	if err := b.cfg.Store.Upsert(product); err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.ProductsDiscovered.Inc()
	}
	b.logger.Info("[bot] new product %s: %s", id, d.Title)
	return nil
}

// Valuation

func (b *Bot) valuationLoop() {
	defer b.wg.Done()
	b.logger.Info("[bot] valuation loop started")

	for {
		snap := b.cfg.Settings.Snapshot()
		if snap.AIEnabled() {
			if _, err := b.ValuateOnce(b.runCtx); err != nil && !errors.Is(err, ErrPassInProgress) {
				b.logger.Error("[bot] valuation cycle: %v", err)
			}
		}

		interval := time.Duration(snap.OpenAI.ValuationIntervalMinutes) * time.Minute
		select {
		case <-b.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// ValuateOnce runs a single valuation pass over every product without a
// completed valuation. Single-flight: a concurrent call is rejected.
func (b *Bot) ValuateOnce(ctx context.Context) (int, error) {
	if !b.valMu.TryLock() {
		return 0, ErrPassInProgress
	}
	defer b.valMu.Unlock()
	return b.runValuations(ctx)
}

// TriggerValuation starts a valuation pass in the background, or rejects the
// request when one is already running. The pass joins the bot's wait group so
// Stop waits for it before cancelling the run context.
func (b *Bot) TriggerValuation() error {
	snap := b.cfg.Settings.Snapshot()
	if !snap.AIEnabled() {
		return errors.New("AI valuation is not enabled")
	}
	if !b.valMu.TryLock() {
		return ErrPassInProgress
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.valMu.Unlock()
		if n, err := b.runValuations(b.runCtx); err != nil {
			b.logger.Error("[bot] manual valuation: %v", err)
		} else {
			b.logger.Info("[bot] manual valuation done, %d products valuated", n)
		}
	}()
	return nil
}

// runValuations performs one pass. Callers hold valMu.
func (b *Bot) runValuations(ctx context.Context) (int, error) {
	snap := b.cfg.Settings.Snapshot()
	if !snap.AIEnabled() {
		return 0, errors.New("AI valuation is not enabled")
	}

	pending := b.cfg.Store.NeedingValuation()
	if len(pending) == 0 {
		b.logger.Info("[bot] no products need valuation")
		b.completeValuationPass()
		return 0, nil
	}

	b.logger.Info("[bot] valuating %d products...", len(pending))

	for _, p := range pending {
		if p.Valuation == nil {
			if err := b.cfg.Store.SetValuationStatus(p.ID, models.ValuationQueued); err != nil {
				b.logger.Error("[bot] queue %s: %v", p.ID, err)
			}
		}
	}

	done := 0
	for i, p := range pending {
		if b.stopping() || ctx.Err() != nil {
			break
		}

		if err := b.cfg.Store.SetValuationStatus(p.ID, models.ValuationRunning); err != nil {
			b.logger.Error("[bot] %s: %v", p.ID, err)
			continue
		}

		result := b.cfg.Valuator.Valuate(ctx, p, snap.OpenAI)
		if err := b.cfg.Store.MarkValuation(p.ID, result); err != nil {
			b.logger.Error("[bot] record valuation %s: %v", p.ID, err)
			continue
		}

		if b.cfg.Metrics != nil {
			if result.Status == models.ValuationCompleted {
				b.cfg.Metrics.ValuationsOK.Inc()
			} else {
				b.cfg.Metrics.ValuationsFailed.Inc()
			}
		}
		if result.Status == models.ValuationCompleted {
			done++
		}
		b.logger.Info("[bot] valuated %s (%s)", p.ID, result.Status)

		// Space out API calls within the pass.
		if b.cfg.ValuationDelay > 0 && i < len(pending)-1 {
			select {
			case <-ctx.Done():
			case <-b.stopCh:
			case <-time.After(b.cfg.ValuationDelay):
			}
		}
	}

	b.completeValuationPass()
	b.logger.Info("[bot] valuation pass completed")
	return done, nil
}

func (b *Bot) completeValuationPass() {
	atomic.AddUint64(&b.valPasses, 1)
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.ValuationPasses.Inc()
	}
}

// Maintenance operations, triggered from the API

// RefreshAll re-fetches and re-extracts the detail page of every stored
// product, updating extracted fields while preserving discovery timestamps
// and valuations. Shares the poll single-flight lock.
func (b *Bot) RefreshAll(ctx context.Context) (int, error) {
	if !b.pollMu.TryLock() {
		return 0, ErrPassInProgress
	}
	defer b.pollMu.Unlock()

	snap := b.cfg.Settings.Snapshot()
	opts := b.fetchOptions(snap)
	pf := b.pageFetcher(snap)

	refreshed := 0
	for _, p := range b.cfg.Store.List() {
		if b.stopping() || ctx.Err() != nil {
			break
		}

		_, body, err := pf.Get(ctx, p.URL, opts)
		if err != nil {
			b.logger.Error("[bot] refresh %s: %v", p.ID, err)
			continue
		}

		d := extract.DetailFromHTML(body)
		update := models.Product{
			ID:               p.ID,
			Title:            d.Title,
			Description:      d.Description,
			Location:         d.Location,
			Seller:           d.Seller,
			Price:            d.Price,
			ImageURLs:        d.ImageURLs,
			ExtractionErrors: p.ExtractionErrors + d.Errors,
		}
		if err := b.cfg.Store.Upsert(update); err != nil {
			b.logger.Error("[bot] refresh persist %s: %v", p.ID, err)
			continue
		}
		refreshed++
	}

	b.logger.Info("[bot] refreshed %d products", refreshed)
	return refreshed, nil
}

// FetchImages downloads images for stored products that have source URLs but
// no local files yet.
func (b *Bot) FetchImages(ctx context.Context) (int, error) {
	if b.cfg.Images == nil {
		return 0, errors.New("image downloads are not configured")
	}

	snap := b.cfg.Settings.Snapshot()
	if !snap.Images.DownloadEnabled {
		return 0, errors.New("image downloads are disabled in settings")
	}
	opts := b.fetchOptions(snap)

	fetched := 0
	for _, p := range b.cfg.Store.List() {
		if b.stopping() || ctx.Err() != nil {
			break
		}
		if len(p.ImageURLs) == 0 || len(p.ImageFiles) > 0 {
			continue
		}

		files := b.cfg.Images.Download(ctx, p.ID, p.ImageURLs, snap.Images.MaxImagesPerItem, opts)
		if len(files) == 0 {
			continue
		}
		if err := b.cfg.Store.Upsert(models.Product{ID: p.ID, ImageFiles: files}); err != nil {
			b.logger.Error("[bot] image files persist %s: %v", p.ID, err)
			continue
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.ImagesDownloaded.Add(float64(len(files)))
		}
		fetched++
	}

	b.logger.Info("[bot] fetched images for %d products", fetched)
	return fetched, nil
}

// Helpers

func (b *Bot) fetchOptions(snap models.Settings) fetch.Options {
	return fetch.Options{
		Timeout:    time.Duration(snap.RequestTimeoutSeconds) * time.Second,
		MaxRetries: snap.MaxRetries,
		BaseDelay:  time.Second,
		MaxJitter:  b.cfg.MaxJitter,
	}
}

// pageFetcher selects the rendered-page backend when settings ask for it.
func (b *Bot) pageFetcher(snap models.Settings) fetch.PageFetcher {
	if snap.RenderJS && b.cfg.Browser != nil {
		return b.cfg.Browser
	}
	return b.cfg.Fetcher
}

// dumpDebugPage keeps the last empty search page around for inspection.
func (b *Bot) dumpDebugPage(body []byte) {
	if b.cfg.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(b.cfg.DebugDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(b.cfg.DebugDir, "last_search_page.html")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		b.logger.Warn("[bot] debug dump failed: %v", err)
	}
}
