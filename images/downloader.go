// Package images fetches and caches listing photos on local disk.
package images

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"toribot/fetch"
	"toribot/utils"
)

var allowedExts = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {},
}

// Downloader fetches up to a configured number of images per listing and
// stores them under a single directory with deterministic filenames.
type Downloader struct {
	fetcher fetch.PageFetcher
	dir     string
	logger  *utils.Logger
}

// NewDownloader creates a Downloader storing files under dir.
func NewDownloader(fetcher fetch.PageFetcher, dir string, logger *utils.Logger) *Downloader {
	return &Downloader{fetcher: fetcher, dir: dir, logger: logger}
}

// Download fetches at most maxImages of the given URLs, in input order, and
// returns the filenames written. A failed image is logged and omitted; it
// never aborts the remaining downloads. Filenames are derived from the
// product id and index, so a re-download overwrites instead of accumulating.
func (d *Downloader) Download(ctx context.Context, productID string, urls []string, maxImages int, opts fetch.Options) []string {
	if maxImages <= 0 || len(urls) == 0 {
		return nil
	}
	if len(urls) > maxImages {
		urls = urls[:maxImages]
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Error("[images] cannot create %s: %v", d.dir, err)
		return nil
	}

	var saved []string
	for idx, u := range urls {
		if ctx.Err() != nil {
			break
		}

		filename := fmt.Sprintf("%s_%d.%s", productID, idx, extension(u))

		if err := d.downloadOne(ctx, u, filename, opts); err != nil {
			d.logger.Warn("[images] %s image %d failed: %v", productID, idx, err)
			continue
		}
		saved = append(saved, filename)
		d.logger.Debug("[images] downloaded %s", filename)
	}
	return saved
}

func (d *Downloader) downloadOne(ctx context.Context, url, filename string, opts fetch.Options) error {
	_, body, err := d.fetcher.Get(ctx, url, opts)
	if err != nil {
		return err
	}

	// Reject payloads that are not actually images (error pages, HTML).
	if !strings.HasPrefix(http.DetectContentType(body), "image/") {
		return fmt.Errorf("payload is not an image")
	}

	return os.WriteFile(filepath.Join(d.dir, filename), body, 0o644)
}

// extension picks the output file extension from the URL, defaulting to jpg.
func extension(url string) string {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(trimmed), "."))
	if _, ok := allowedExts[ext]; ok {
		return ext
	}
	return "jpg"
}
