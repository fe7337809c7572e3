package extract

import (
	"reflect"
	"testing"
)

func TestIDsExtractsUniqueSortedIDs(t *testing.T) {
	page := []byte(`
		<a href="/recommerce/forsale/item/456">Sohva</a>
		<a href="https://www.tori.fi/recommerce/forsale/item/123?ref=list">Pyörä</a>
		<a href='/recommerce/forsale/item/123'>Pyörä (kuva)</a>
		<a href="/profile/789">Myyjä</a>
	`)

	got := IDs(page)
	want := []string{"123", "456"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v; want %v", got, want)
	}
}

func TestIDsEmptyPage(t *testing.T) {
	got := IDs([]byte("<html><body>Ei ilmoituksia</body></html>"))
	if len(got) != 0 {
		t.Errorf("expected no ids, got %v", got)
	}
}

func TestIDsIgnoresNonNumericPaths(t *testing.T) {
	page := []byte(`<a href="/recommerce/forsale/item/abc">x</a>`)
	if got := IDs(page); len(got) != 0 {
		t.Errorf("expected no ids for non-numeric path, got %v", got)
	}
}

func TestSearchPageURL(t *testing.T) {
	tests := []struct {
		url  string
		page int
		want string
	}{
		{"https://www.tori.fi/search?sort=PUBLISHED_DESC", 1, "https://www.tori.fi/search?sort=PUBLISHED_DESC"},
		{"https://www.tori.fi/search?sort=PUBLISHED_DESC", 2, "https://www.tori.fi/search?sort=PUBLISHED_DESC&page=2"},
		{"https://www.tori.fi/search", 3, "https://www.tori.fi/search?page=3"},
		{"https://www.tori.fi/search", 0, "https://www.tori.fi/search"},
	}

	for _, tt := range tests {
		got := SearchPageURL(tt.url, tt.page)
		if got != tt.want {
			t.Errorf("SearchPageURL(%q, %d) = %q; want %q", tt.url, tt.page, got, tt.want)
		}
	}
}

func TestItemURL(t *testing.T) {
	got := ItemURL("12345")
	want := "https://www.tori.fi/recommerce/forsale/item/12345"
	if got != want {
		t.Errorf("ItemURL() = %q; want %q", got, want)
	}
}

const fullDetailPage = `<!DOCTYPE html>
<html>
<head>
	<meta property="og:description" content="Hyväkuntoinen polkupyörä, vähän käytetty.">
</head>
<body>
	<h1>  Polkupyörä   Helkama </h1>
	<script>
		window.__data = {"location":"Helsinki","sellerName":"Matti M","price":{"currency":"EUR","amount":25},
		"mainImage":"https://images.tori.fi/api/v1/img/item/1.jpg"};
	</script>
	<img src="https://images.tori.fi/api/v1/img/item/2.jpg">
	<img src="https://cdn.tori.fi/img/logo.png">
</body>
</html>`

func TestDetailFromHTMLFullPage(t *testing.T) {
	d := DetailFromHTML([]byte(fullDetailPage))

	if d.Title != "Polkupyörä Helkama" {
		t.Errorf("Title = %q", d.Title)
	}
	if d.Description != "Hyväkuntoinen polkupyörä, vähän käytetty." {
		t.Errorf("Description = %q", d.Description)
	}
	if d.Location != "Helsinki" {
		t.Errorf("Location = %q", d.Location)
	}
	if d.Seller != "Matti M" {
		t.Errorf("Seller = %q", d.Seller)
	}
	if d.Price == nil || *d.Price != 25 {
		t.Errorf("Price = %v; want 25", d.Price)
	}
	want := []string{
		"https://images.tori.fi/api/v1/img/item/1.jpg",
		"https://images.tori.fi/api/v1/img/item/2.jpg",
	}
	if !reflect.DeepEqual(d.ImageURLs, want) {
		t.Errorf("ImageURLs = %v; want %v", d.ImageURLs, want)
	}
	if d.Errors != 0 {
		t.Errorf("Errors = %d; want 0", d.Errors)
	}
}

func TestDetailFromHTMLCountsMissingFields(t *testing.T) {
	d := DetailFromHTML([]byte(`<html><body><h1>Vain otsikko</h1></body></html>`))

	if d.Title != "Vain otsikko" {
		t.Errorf("Title = %q", d.Title)
	}
	// Description, location, seller and images are missing; price absence is
	// not counted.
	if d.Errors != 4 {
		t.Errorf("Errors = %d; want 4", d.Errors)
	}
	if d.Price != nil {
		t.Errorf("Price = %v; want nil", d.Price)
	}
}

func TestDetailFromHTMLMissingPriceIsNotAnError(t *testing.T) {
	page := []byte(`<html><head>
		<meta property="og:description" content="Annetaan ilmaiseksi.">
	</head><body>
		<h1>Ilmainen sohva</h1>
		<script>{"location":"Espoo","sellerName":"Liisa","mainImage":"https://images.tori.fi/img/3.jpg"}</script>
	</body></html>`)

	d := DetailFromHTML(page)
	if d.Price != nil {
		t.Errorf("Price = %v; want nil", d.Price)
	}
	if d.Errors != 0 {
		t.Errorf("Errors = %d; want 0", d.Errors)
	}
}

func TestDetailFromHTMLIsIdempotent(t *testing.T) {
	first := DetailFromHTML([]byte(fullDetailPage))
	second := DetailFromHTML([]byte(fullDetailPage))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated extraction differs:\n%+v\n%+v", first, second)
	}
}

func TestValidImageURLFiltersAdsAndSchemes(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://images.tori.fi/img/1.jpg", true},
		{"https://images.tori.fi/img/1.webp?rule=medium", true},
		{"http://images.tori.fi/img/1.jpg", false},
		{"https://images.tori.fi/banner/ad.jpg", false},
		{"https://cdn.tori.fi/img/logo.png", false},
		{"https://images.tori.fi/img/photo.svg", false},
		{"https://example.com/photo.jpg", false},
	}

	for _, tt := range tests {
		if got := validImageURL(tt.url); got != tt.want {
			t.Errorf("validImageURL(%q) = %v; want %v", tt.url, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  paljon   välejä ", "paljon välejä"},
		{"<b>lihavoitu</b> teksti", "lihavoitu teksti"},
		{"rivin\nvaihto", "rivin vaihto"},
		{"&amp; merkki", "& merkki"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
