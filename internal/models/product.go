package models

import (
	"time"
)

// MaxImageURLs bounds the number of image URLs kept per product.
const MaxImageURLs = 5

// Product represents one tracked item. A product is created on the first
// successful scrape of a URL and mutated in place on every subsequent one.
// The URL is immutable and, together with the site, uniquely identifies it.
type Product struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	CurrentPrice  float64   `json:"current_price"`
	PriceUnparsed bool      `json:"price_unparsed,omitempty"`
	Currency      string    `json:"currency"`
	ImageURLs     []string  `json:"image_urls"`
	Site          string    `json:"site"`
	UPC           string    `json:"upc,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewProduct(url, site string) *Product {
	now := time.Now()
	return &Product{
		URL:       url,
		Site:      site,
		Currency:  "USD",
		ImageURLs: make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PriceObservation is one immutable timestamped price sample for a product.
// Observations are append-only and totally ordered by RecordedAt.
type PriceObservation struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency"`
	Unparsed   bool      `json:"unparsed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`

	// Delta is price minus the immediately preceding observation for the
	// same product. Nil for the first observation; zero means "no change".
	Delta *float64 `json:"delta,omitempty"`
}

func (p *Product) Validate() []string {
	var errs []string

	if p.URL == "" {
		errs = append(errs, "URL is required")
	}

	if p.Name == "" {
		errs = append(errs, "Name is required")
	}

	if p.CurrentPrice < 0 {
		errs = append(errs, "Price cannot be negative")
	}

	return errs
}
