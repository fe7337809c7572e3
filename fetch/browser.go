package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"toribot/utils"
)

// BrowserFetcher renders pages in headless Chrome before returning their
// HTML. Used instead of the plain Fetcher when render_js is enabled in
// settings, for the marketplace views that only populate client-side.
type BrowserFetcher struct {
	logger *utils.Logger
}

// NewBrowserFetcher creates a BrowserFetcher. Chrome is located lazily on
// first Get so construction never fails.
func NewBrowserFetcher(logger *utils.Logger) *BrowserFetcher {
	return &BrowserFetcher{logger: logger}
}

// Get navigates to url in a fresh headless tab and returns the rendered
// document. The status is synthesized as 200 on success; navigation-level
// failures are transient.
func (b *BrowserFetcher) Get(ctx context.Context, url string, opts Options) (int, []byte, error) {
	opts = opts.withDefaults()

	chromeBin := findChromeBinary()
	if chromeBin == "" {
		b.logger.Warn("[browser] no Chrome binary found, relying on chromedp defaults")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if chromeBin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	// Rendering needs room beyond the plain-HTTP timeout.
	runCtx, cancelTimeout := context.WithTimeout(tabCtx, opts.Timeout+30*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return 0, nil, &Error{URL: url, Err: fmt.Errorf("render: %w", err), Transient: true}
	}

	return 200, []byte(html), nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
