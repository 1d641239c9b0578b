// Package history appends immutable price observations and surfaces the
// change against the previous observation at write time.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// Store is the persistence needed by the recorder. *database.DB satisfies
// it.
type Store interface {
	AppendObservation(ctx context.Context, o *models.PriceObservation) error
	LatestObservation(ctx context.Context, productID string) (*models.PriceObservation, error)
}

type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With("component", "history"),
	}
}

// Record appends one observation for a product and computes its delta
// against the most recent prior observation. The delta is nil for the
// first observation, since zero would falsely read as "no change". History is
// never rewritten: unparsed prices are recorded as produced and flagged
// low-confidence rather than dropped.
func (r *Recorder) Record(ctx context.Context, productID string, price float64, currency string, unparsed bool, at time.Time) (*models.PriceObservation, error) {
	if productID == "" {
		return nil, fmt.Errorf("product ID is required")
	}
	if at.IsZero() {
		at = time.Now()
	}

	prev, err := r.store.LatestObservation(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to read prior observation: %w", err)
	}

	obs := &models.PriceObservation{
		ProductID:  productID,
		Price:      price,
		Currency:   currency,
		Unparsed:   unparsed,
		RecordedAt: at,
	}

	if prev != nil {
		delta := price - prev.Price
		obs.Delta = &delta
	}

	if err := r.store.AppendObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("failed to append observation: %w", err)
	}

	if obs.Delta != nil && *obs.Delta != 0 {
		r.logger.Info("price changed", "product", productID, "price", price, "delta", *obs.Delta)
	}

	return obs, nil
}
