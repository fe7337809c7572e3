// Package extract parses marketplace HTML into structured listing data.
// Extraction is best-effort per field: a field that cannot be parsed yields
// its zero value and bumps the record's error counter instead of aborting.
package extract

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// BaseURL is the canonical marketplace origin.
	BaseURL = "https://www.tori.fi"

	// itemPath is the listing-URL structure product ids are extracted from.
	itemPath = "/recommerce/forsale/item/"

	// maxImageCandidates bounds how many image URLs one detail page yields;
	// the downloader applies the configured per-item cap on top.
	maxImageCandidates = 10
)

var (
	idPattern = regexp.MustCompile(`href=["'][^"']*?/recommerce/forsale/item/(\d+)`)

	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"location"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)"address"[^}]*"locality"\s*:\s*"([^"]+)"`),
	}
	sellerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"seller"[^}]*"name"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)"sellerName"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)"advertiser"[^}]*"name"\s*:\s*"([^"]+)"`),
	}
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"price"\s*:\s*\{[^}]*?"amount"\s*:\s*(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)"price"\s*:\s*(\d+(?:\.\d+)?)`),
	}
	imagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"mainImage"\s*:\s*"(https://[^"]+?\.(?:jpg|jpeg|png|webp)[^"]*)"`),
		regexp.MustCompile(`(?i)"imageUrl"\s*:\s*"(https://[^"]+?\.(?:jpg|jpeg|png|webp)[^"]*)"`),
		regexp.MustCompile(`(?i)"image"\s*:\s*"(https://[^"]+?\.(?:jpg|jpeg|png|webp)[^"]*)"`),
	}
	imageExtPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)(\?|$)`)
	tagPattern      = regexp.MustCompile(`<[^>]+>`)

	// URL fragments that identify ad/UI imagery rather than product photos.
	adTerms = []string{"banner", "advertisement", "promo", "logo", "icon", "avatar", "watermark", "overlay"}
)

// ItemURL returns the canonical external link for a listing id.
func ItemURL(id string) string {
	return BaseURL + itemPath + id
}

// SearchPageURL appends a page parameter to the configured search URL.
// Page 1 (or less) returns the URL unchanged.
func SearchPageURL(listingURL string, page int) string {
	if page <= 1 {
		return listingURL
	}
	sep := "?"
	if strings.Contains(listingURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", listingURL, sep, page)
}

// IDs extracts the set of listing ids referenced by a search-result page.
// A page with zero matches yields an empty slice, not an error. The result
// is sorted so repeated extraction of the same page is deterministic.
func IDs(pageHTML []byte) []string {
	matches := idPattern.FindAllSubmatch(pageHTML, -1)
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := string(m[1])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detail holds the fields parsed from one listing page. Errors counts the
// fields that could not be extracted.
type Detail struct {
	Title       string
	Description string
	Location    string
	Seller      string
	Price       *float64
	ImageURLs   []string
	Errors      int
}

// DetailFromHTML parses a listing detail page. Output is idempotent: the same
// page always yields the same field values.
func DetailFromHTML(pageHTML []byte) Detail {
	var d Detail

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))

	// Title: first h1 of the page.
	if docErr == nil {
		d.Title = CleanText(doc.Find("h1").First().Text())
	}
	if d.Title == "" {
		d.Errors++
	}

	// Description: og:description meta, standard description fallback.
	if docErr == nil {
		if v, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
			d.Description = CleanText(v)
		}
		if d.Description == "" {
			if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
				d.Description = CleanText(v)
			}
		}
	}
	if d.Description == "" {
		d.Errors++
	}

	// Location and seller live in JSON blobs embedded in the page.
	d.Location = firstMatch(pageHTML, locationPatterns)
	if d.Location == "" {
		d.Errors++
	}
	d.Seller = firstMatch(pageHTML, sellerPatterns)
	if d.Seller == "" {
		d.Errors++
	}

	// Price: absent on free listings, so absence is not an extraction error.
	if raw := firstMatch(pageHTML, pricePatterns); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			d.Price = &v
		}
	}

	d.ImageURLs = imageURLs(pageHTML, doc, docErr == nil)
	if len(d.ImageURLs) == 0 {
		d.Errors++
	}

	return d
}

func firstMatch(pageHTML []byte, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindSubmatch(pageHTML); m != nil {
			return CleanText(string(m[1]))
		}
	}
	return ""
}

// imageURLs collects candidate product images from embedded JSON and from
// img tags, filters out ad/UI assets, and dedupes preserving order.
func imageURLs(pageHTML []byte, doc *goquery.Document, haveDoc bool) []string {
	var candidates []string

	for _, p := range imagePatterns {
		for _, m := range p.FindAllSubmatch(pageHTML, -1) {
			candidates = append(candidates, string(m[1]))
		}
	}

	if haveDoc {
		doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
			for _, attr := range []string{"data-src", "src"} {
				if v, ok := sel.Attr(attr); ok && v != "" {
					candidates = append(candidates, v)
					return
				}
			}
		})
	}

	seen := make(map[string]struct{})
	var out []string
	for _, u := range candidates {
		if len(out) >= maxImageCandidates {
			break
		}
		if !validImageURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func validImageURL(u string) bool {
	if !strings.HasPrefix(u, "https://") {
		return false
	}
	if !strings.Contains(u, "tori.fi") && !strings.Contains(u, "images") && !strings.Contains(u, "img") {
		return false
	}
	lower := strings.ToLower(u)
	for _, term := range adTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return imageExtPattern.MatchString(u)
}

// CleanText strips tags, unescapes HTML entities and collapses whitespace.
func CleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
