package tracker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/history"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

// memProducts is an in-memory ProductStore keyed by URL, mirroring how the
// database layer assigns identifiers on insert.
type memProducts struct {
	byURL map[string]*models.Product
}

func newMemProducts() *memProducts {
	return &memProducts{byURL: make(map[string]*models.Product)}
}

func (m *memProducts) GetProductByURL(_ context.Context, url string) (*models.Product, error) {
	p, ok := m.byURL[url]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProducts) InsertProduct(_ context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	m.byURL[p.URL] = &cp
	return nil
}

func (m *memProducts) UpdateProduct(_ context.Context, p *models.Product) error {
	cp := *p
	m.byURL[p.URL] = &cp
	return nil
}

func (m *memProducts) ListProducts(_ context.Context) ([]*models.Product, error) {
	out := make([]*models.Product, 0, len(m.byURL))
	for _, p := range m.byURL {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// memObservations satisfies history.Store.
type memObservations struct {
	byProduct map[string][]*models.PriceObservation
}

func newMemObservations() *memObservations {
	return &memObservations{byProduct: make(map[string][]*models.PriceObservation)}
}

func (m *memObservations) AppendObservation(_ context.Context, o *models.PriceObservation) error {
	cp := *o
	m.byProduct[o.ProductID] = append(m.byProduct[o.ProductID], &cp)
	return nil
}

func (m *memObservations) LatestObservation(_ context.Context, productID string) (*models.PriceObservation, error) {
	obs := m.byProduct[productID]
	if len(obs) == 0 {
		return nil, nil
	}
	cp := *obs[len(obs)-1]
	return &cp, nil
}

func newTestTracker() (*Tracker, *memProducts, *memObservations) {
	products := newMemProducts()
	observations := newMemObservations()
	recorder := history.NewRecorder(observations, slog.Default())
	return New(products, recorder, slog.Default()), products, observations
}

func scrapedProduct(url string, price float64) *models.Product {
	p := models.NewProduct(url, "example.com")
	p.Name = "Widget"
	p.CurrentPrice = price
	return p
}

func TestPersistCreatesProductOnFirstScrape(t *testing.T) {
	ctx := context.Background()
	tr, products, observations := newTestTracker()

	id, err := tr.Persist(ctx, scrapedProduct("https://example.com/w", 10.00), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored := products.byURL["https://example.com/w"]
	require.NotNil(t, stored)
	assert.Equal(t, id, stored.ID)

	require.Len(t, observations.byProduct[id], 1)
	assert.Nil(t, observations.byProduct[id][0].Delta)
}

func TestPersistUpdatesInPlaceOnRescrape(t *testing.T) {
	ctx := context.Background()
	tr, products, observations := newTestTracker()

	first, err := tr.Persist(ctx, scrapedProduct("https://example.com/w", 10.00), nil)
	require.NoError(t, err)

	created := products.byURL["https://example.com/w"].CreatedAt

	// Later scrape of the same URL with a new price.
	again := scrapedProduct("https://example.com/w", 12.00)
	again.UpdatedAt = time.Now().Add(time.Minute)

	second, err := tr.Persist(ctx, again, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identifier is stable across rescrapes")
	assert.Len(t, products.byURL, 1, "no second product row for the same URL")
	assert.Equal(t, created, products.byURL["https://example.com/w"].CreatedAt)
	assert.Equal(t, 12.00, products.byURL["https://example.com/w"].CurrentPrice)

	obs := observations.byProduct[first]
	require.Len(t, obs, 2)
	require.NotNil(t, obs[1].Delta)
	assert.InDelta(t, 2.00, *obs[1].Delta, 1e-9)
}

func TestPersistAppliesUPCMetadata(t *testing.T) {
	ctx := context.Background()
	tr, products, _ := newTestTracker()

	_, err := tr.Persist(ctx, scrapedProduct("https://example.com/w", 10.00), map[string]string{"upc": "012345678905"})
	require.NoError(t, err)
	assert.Equal(t, "012345678905", products.byURL["https://example.com/w"].UPC)

	// A UPC resolved from the page itself is not overwritten by metadata.
	p := scrapedProduct("https://example.com/v", 5.00)
	p.UPC = "from-page"
	_, err = tr.Persist(ctx, p, map[string]string{"upc": "from-metadata"})
	require.NoError(t, err)
	assert.Equal(t, "from-page", products.byURL["https://example.com/v"].UPC)
}

type countingExtractor struct {
	counts map[string]int
}

func (e *countingExtractor) Extract(_ context.Context, url string) (*models.Product, error) {
	e.counts[url]++
	if url == "https://example.com/broken" {
		return nil, assert.AnError
	}
	return scrapedProduct(url, 7.77), nil
}

func TestUpdateAllSkipsFailures(t *testing.T) {
	ctx := context.Background()
	tr, _, observations := newTestTracker()

	for _, url := range []string{"https://example.com/a", "https://example.com/broken", "https://example.com/b"} {
		_, err := tr.Persist(ctx, scrapedProduct(url, 1.00), nil)
		require.NoError(t, err)
	}

	ex := &countingExtractor{counts: make(map[string]int)}
	require.NoError(t, tr.UpdateAll(ctx, ex, ratelimit.New(0)))

	assert.Equal(t, 1, ex.counts["https://example.com/a"])
	assert.Equal(t, 1, ex.counts["https://example.com/broken"], "the failing product is attempted")
	assert.Equal(t, 1, ex.counts["https://example.com/b"], "and does not stop the refresh")

	total := 0
	for _, obs := range observations.byProduct {
		total += len(obs)
	}
	assert.Equal(t, 5, total, "two refreshed products appended an observation each")
}
