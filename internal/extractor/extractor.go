// Package extractor turns one fetched product page into a normalized
// Product record by composing the field resolver across all fields. It owns
// price-string parsing and currency inference; fetching and parsing are
// injected capabilities.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/maltedev/price-tracker/internal/fetch"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/profile"
	"github.com/maltedev/price-tracker/internal/resolver"
)

type Extractor struct {
	fetcher   fetch.Fetcher
	profiles  profile.Store
	maxImages int
	logger    *slog.Logger
}

func New(fetcher fetch.Fetcher, profiles profile.Store, maxImages int, logger *slog.Logger) *Extractor {
	if maxImages <= 0 {
		maxImages = models.MaxImageURLs
	}
	return &Extractor{
		fetcher:   fetcher,
		profiles:  profiles,
		maxImages: maxImages,
		logger:    logger.With("component", "extractor"),
	}
}

// Extract fetches and parses a product page, resolving every field through
// the cascade. The returned product has no identifier; assignment happens
// on first persist. Aside from the fetch itself, Extract has no side
// effects and is idempotent with respect to engine state.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*models.Product, error) {
	raw, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document from %s: %w", pageURL, err)
	}

	site := SiteIdentifier(pageURL)

	prof, ok, err := e.profiles.Get(ctx, site)
	if err != nil {
		// Profile lookup trouble must not fail the extraction; the common
		// and fallback tiers still apply.
		e.logger.Warn("profile lookup failed", "site", site, "error", err)
	}
	if !ok {
		prof = nil
	}

	product := models.NewProduct(pageURL, site)

	product.Name, _ = resolver.Resolve(doc, prof, profile.FieldName)
	product.Description, _ = resolver.Resolve(doc, prof, profile.FieldDescription)

	priceText, _ := resolver.Resolve(doc, prof, profile.FieldPrice)
	product.CurrentPrice, product.PriceUnparsed = ParsePrice(priceText)

	currencyText, _ := resolver.Resolve(doc, prof, profile.FieldCurrency)
	product.Currency = InferCurrency(currencyText, priceText)

	product.UPC, _ = resolver.Resolve(doc, prof, profile.FieldIdentifier)

	product.ImageURLs = e.normalizeImages(pageURL, resolver.ResolveAll(doc, prof, profile.FieldImage))

	e.logger.Debug("extracted product",
		"url", pageURL,
		"site", site,
		"name", product.Name,
		"price", product.CurrentPrice,
		"unparsed", product.PriceUnparsed,
		"images", len(product.ImageURLs),
	)

	return product, nil
}

// normalizeImages makes image URLs absolute, drops anything that is not
// http(s), dedupes, and truncates to the configured maximum.
func (e *Extractor) normalizeImages(pageURL string, raw []string) []string {
	base, baseErr := url.Parse(pageURL)

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool)

	for _, img := range raw {
		switch {
		case strings.HasPrefix(img, "//"):
			img = "https:" + img
		case strings.HasPrefix(img, "/") && baseErr == nil:
			img = base.Scheme + "://" + base.Host + img
		}

		if !strings.HasPrefix(img, "http") || seen[img] {
			continue
		}

		seen[img] = true
		out = append(out, img)

		if len(out) == e.maxImages {
			break
		}
	}

	return out
}

// SiteIdentifier derives the registrable domain for a URL, the key used
// for profile lookup and product grouping. Hosts without a recognizable
// public suffix (e.g. localhost in tests) fall back to the bare host.
func SiteIdentifier(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())

	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}

	return strings.TrimPrefix(host, "www.")
}
