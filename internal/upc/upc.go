// Package upc looks up product prices by UPC code against a catalog
// suggestion API, paced by the same rate governor the scraping engine uses.
package upc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/maltedev/price-tracker/internal/ratelimit"
)

const defaultBaseURL = "https://catalog.app.iherb.com/suggestion"

// Result is the outcome of one UPC lookup. Found is false when the catalog
// has no match; Error carries the reason for transport-level failures.
type Result struct {
	UPC       string    `json:"upc"`
	Found     bool      `json:"found"`
	ProductID string    `json:"product_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url,omitempty"`
	Price     float64   `json:"price,omitempty"`
	ListPrice float64   `json:"list_price,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	InStock   bool      `json:"in_stock,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	governor    ratelimit.Governor
	countryCode string
	currency    string
	logger      *slog.Logger
}

type Options struct {
	BaseURL       string
	RatePerMinute int
	CountryCode   string
	Currency      string
	Timeout       time.Duration
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.CountryCode == "" {
		opts.CountryCode = "US"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerMinute == 0 {
		opts.RatePerMinute = 20
	}

	return &Client{
		baseURL:     opts.BaseURL,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		governor:    ratelimit.PerMinute(opts.RatePerMinute),
		countryCode: opts.CountryCode,
		currency:    opts.Currency,
		logger:      logger.With("component", "upc_lookup"),
	}
}

type suggestionResponse struct {
	Products []struct {
		ID         json.Number `json:"id"`
		Name       string      `json:"name"`
		PartNumber string      `json:"partNumber"`
		Price      float64     `json:"price"`
		ListPrice  float64     `json:"listPrice"`
		InStock    bool        `json:"inStock"`
		Image      string      `json:"image"`
		Brand      string      `json:"brand"`
	} `json:"products"`
}

// Lookup queries the catalog for one UPC. Transport failures and empty
// matches are reported in the Result, never as an error return, so batch
// callers can keep going.
func (c *Client) Lookup(ctx context.Context, upcCode string) Result {
	result := Result{UPC: upcCode, Currency: c.currency, Timestamp: time.Now()}

	if err := c.governor.Wait(ctx); err != nil {
		result.Error = err.Error()
		return result
	}

	params := url.Values{}
	params.Set("kw", upcCode)
	params.Set("m", "1")
	params.Set("countryCode", c.countryCode)
	params.Set("currCode", c.currency)
	params.Set("lc", "en-US")
	params.Set("store", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	var payload suggestionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		result.Error = fmt.Sprintf("invalid API response: %v", err)
		return result
	}

	if len(payload.Products) == 0 {
		result.Error = "no products found"
		return result
	}

	p := payload.Products[0]
	result.Found = true
	result.ProductID = p.ID.String()
	result.Name = p.Name
	result.URL = "https://www.iherb.com/pr/" + p.PartNumber
	result.Price = p.Price
	result.ListPrice = p.ListPrice
	result.InStock = p.InStock
	result.ImageURL = p.Image
	result.Brand = p.Brand

	return result
}

// LookupBatch resolves UPCs sequentially under the client's rate limit.
func (c *Client) LookupBatch(ctx context.Context, upcs []string) []Result {
	results := make([]Result, 0, len(upcs))

	for _, code := range upcs {
		if ctx.Err() != nil {
			break
		}

		result := c.Lookup(ctx, code)
		results = append(results, result)

		if result.Found {
			c.logger.Info("upc found", "upc", code, "name", result.Name, "price", result.Price)
		} else {
			c.logger.Warn("upc not found", "upc", code, "error", result.Error)
		}
	}

	return results
}
