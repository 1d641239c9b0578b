package extractor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/fetch"
	"github.com/maltedev/price-tracker/internal/profile"
)

type fakeFetcher struct {
	pages map[string][]byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[url], nil
}

type fakeProfileStore struct {
	profiles map[string]*profile.SiteProfile
	err      error
}

func (s *fakeProfileStore) Get(_ context.Context, site string) (*profile.SiteProfile, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	p, ok := s.profiles[site]
	return p, ok, nil
}

const productPage = `
<html>
<head>
	<title>Fancy Mixer | Shop</title>
	<meta property="product:price:currency" content="USD">
</head>
<body>
	<h1 id="productTitle">Fancy Stand Mixer</h1>
	<div id="productDescription">Mixes things. Quite fancy.</div>
	<span class="product-price">$1,299.00</span>
	<div id="product-gallery">
		<img src="//cdn.shop.example.com/mixer-1.jpg">
		<img src="/images/mixer-2.jpg">
		<img src="https://cdn.shop.example.com/mixer-1.jpg">
	</div>
</body>
</html>`

func newTestExtractor(fetcher fetch.Fetcher, profiles profile.Store) *Extractor {
	return New(fetcher, profiles, 5, slog.Default())
}

func TestExtractFullProduct(t *testing.T) {
	pageURL := "https://www.shop.example.com/products/mixer"
	fetcher := &fakeFetcher{pages: map[string][]byte{pageURL: []byte(productPage)}}
	profiles := &fakeProfileStore{profiles: map[string]*profile.SiteProfile{
		"example.com": {
			Site: "example.com",
			Rules: map[profile.Field]profile.FieldRule{
				profile.FieldImage: {Patterns: []profile.Pattern{
					{Selector: "#product-gallery img", Attr: "src"},
				}},
			},
		},
	}}

	product, err := newTestExtractor(fetcher, profiles).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Empty(t, product.ID, "identifier is assigned on first persist, not at extraction")
	assert.Equal(t, pageURL, product.URL)
	assert.Equal(t, "example.com", product.Site, "registrable domain, www and subdomain stripped")
	assert.Equal(t, "Fancy Stand Mixer", product.Name)
	assert.Equal(t, "Mixes things. Quite fancy.", product.Description)
	assert.Equal(t, 1299.00, product.CurrentPrice)
	assert.False(t, product.PriceUnparsed)
	assert.Equal(t, "USD", product.Currency)
	assert.Equal(t, []string{
		"https://cdn.shop.example.com/mixer-1.jpg",
		"https://www.shop.example.com/images/mixer-2.jpg",
	}, product.ImageURLs, "protocol-relative and root-relative URLs made absolute, duplicates dropped")
}

func TestExtractUnparseablePrice(t *testing.T) {
	pageURL := "https://shop.example.com/products/sold-out"
	page := `<html><body>
		<h1 id="productTitle">Sold Out Widget</h1>
		<span class="product-price">Currently unavailable</span>
	</body></html>`

	fetcher := &fakeFetcher{pages: map[string][]byte{pageURL: []byte(page)}}

	product, err := newTestExtractor(fetcher, &fakeProfileStore{}).Extract(context.Background(), pageURL)
	require.NoError(t, err)

	assert.Equal(t, 0.0, product.CurrentPrice)
	assert.True(t, product.PriceUnparsed)
	assert.Equal(t, "USD", product.Currency)
}

func TestExtractFetchErrorPropagates(t *testing.T) {
	fetchErr := &fetch.Error{Kind: fetch.KindStatus, URL: "https://shop.example.com/x", Err: assert.AnError}
	fetcher := &fakeFetcher{err: fetchErr}

	product, err := newTestExtractor(fetcher, &fakeProfileStore{}).Extract(context.Background(), "https://shop.example.com/x")
	assert.Nil(t, product)
	assert.True(t, fetch.IsFetchError(err))
}

func TestExtractProfileLookupFailureDoesNotAbort(t *testing.T) {
	pageURL := "https://shop.example.com/products/mixer"
	fetcher := &fakeFetcher{pages: map[string][]byte{pageURL: []byte(productPage)}}
	profiles := &fakeProfileStore{err: assert.AnError}

	product, err := newTestExtractor(fetcher, profiles).Extract(context.Background(), pageURL)
	require.NoError(t, err)
	assert.Equal(t, "Fancy Stand Mixer", product.Name, "common tier still applies without a profile")
}

func TestExtractImageLimit(t *testing.T) {
	pageURL := "https://shop.example.com/products/gallery"
	page := `<html><body>
		<h1 id="productTitle">Gallery Heavy</h1>
		<div id="product-images">
			<img src="https://cdn.example.com/1.jpg">
			<img src="https://cdn.example.com/2.jpg">
			<img src="https://cdn.example.com/3.jpg">
			<img src="https://cdn.example.com/4.jpg">
		</div>
	</body></html>`

	fetcher := &fakeFetcher{pages: map[string][]byte{pageURL: []byte(page)}}

	ex := New(fetcher, &fakeProfileStore{}, 2, slog.Default())
	product, err := ex.Extract(context.Background(), pageURL)
	require.NoError(t, err)
	assert.Len(t, product.ImageURLs, 2)
}

func TestSiteIdentifier(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.com/dp/B000", "amazon.com"},
		{"https://shop.store.co.uk/item", "store.co.uk"},
		{"https://example.com/p/1", "example.com"},
		{"http://localhost:8080/page", "localhost"},
		{"not a url at all", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SiteIdentifier(tt.url), "url %q", tt.url)
	}
}
