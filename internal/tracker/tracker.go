// Package tracker owns the product lifecycle: a product is created on the
// first successful scrape of a URL, mutated in place on every later one,
// and never deleted by the engine. Each successful scrape also appends a
// price observation.
package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

// ProductStore is the persistence needed by the tracker. *database.DB
// satisfies it.
type ProductStore interface {
	GetProductByURL(ctx context.Context, url string) (*models.Product, error)
	InsertProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	ListProducts(ctx context.Context) ([]*models.Product, error)
}

type Tracker struct {
	store    ProductStore
	recorder *history.Recorder
	logger   *slog.Logger
}

func New(store ProductStore, recorder *history.Recorder, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		recorder: recorder,
		logger:   logger.With("component", "tracker"),
	}
}

// Persist stores one freshly extracted product: insert on first sight of
// the URL (assigning the stable identifier), in-place update afterwards.
// Either way a price observation is appended. Persist implements the batch
// runner's result sink.
func (t *Tracker) Persist(ctx context.Context, p *models.Product, metadata map[string]string) (string, error) {
	existing, err := t.store.GetProductByURL(ctx, p.URL)
	if err != nil {
		return "", fmt.Errorf("failed to look up product: %w", err)
	}

	if upc := metadata["upc"]; upc != "" && p.UPC == "" {
		p.UPC = upc
	}

	if existing != nil {
		// Identifier, URL, site and creation time are immutable.
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt

		if err := t.store.UpdateProduct(ctx, p); err != nil {
			return "", err
		}
		t.logger.Info("product updated", "id", p.ID, "name", p.Name, "price", p.CurrentPrice)
	} else {
		if err := t.store.InsertProduct(ctx, p); err != nil {
			return "", err
		}
		t.logger.Info("product added", "id", p.ID, "name", p.Name, "price", p.CurrentPrice)
	}

	obs, err := t.recorder.Record(ctx, p.ID, p.CurrentPrice, p.Currency, p.PriceUnparsed, p.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to record observation: %w", err)
	}

	if obs.Delta != nil {
		t.logger.Debug("observation recorded", "product", p.ID, "delta", *obs.Delta)
	}

	return p.ID, nil
}

// Extractor matches the extraction engine's contract; declared here so
// UpdateAll does not import the extractor package.
type Extractor interface {
	Extract(ctx context.Context, url string) (*models.Product, error)
}

// UpdateAll rescrapes every tracked product sequentially through the given
// governor. Per-product failures are logged and skipped; the refresh keeps
// going.
func (t *Tracker) UpdateAll(ctx context.Context, ex Extractor, governor ratelimit.Governor) error {
	products, err := t.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	t.logger.Info("updating tracked products", "count", len(products))

	for _, p := range products {
		if err := governor.Wait(ctx); err != nil {
			return err
		}

		fresh, err := ex.Extract(ctx, p.URL)
		if err != nil {
			t.logger.Warn("failed to refresh product", "url", p.URL, "error", err)
			continue
		}

		if _, err := t.Persist(ctx, fresh, nil); err != nil {
			t.logger.Warn("failed to store refreshed product", "url", p.URL, "error", err)
		}
	}

	return nil
}
