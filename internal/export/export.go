// Package export materializes the successful items of a finished job as
// tabular rows. It is the engine's export surface; serialization beyond the
// bundled CSV writer belongs to the surrounding CLI/web layers.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/models"
)

// Row is one successfully extracted product flattened for tabular output.
type Row struct {
	ProductID     string
	URL           string
	Name          string
	Description   string
	Price         float64
	PriceUnparsed bool
	Currency      string
	Site          string
	ImageURLs     []string
}

// ProductGetter loads stored products by identifier. *database.DB
// satisfies it.
type ProductGetter interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

// BuildRows resolves a job's successful outcomes into export rows, in item
// order. Products deleted out of band since the job ran are skipped.
func BuildRows(ctx context.Context, store ProductGetter, job jobs.Job) ([]Row, error) {
	rows := make([]Row, 0, job.Success)

	for _, outcome := range job.Outcomes {
		if outcome == nil || !outcome.Success {
			continue
		}

		p, err := store.GetProductByID(ctx, outcome.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to load product %s: %w", outcome.ProductID, err)
		}
		if p == nil {
			continue
		}

		rows = append(rows, Row{
			ProductID:     p.ID,
			URL:           p.URL,
			Name:          p.Name,
			Description:   shorten(p.Description, 200),
			Price:         p.CurrentPrice,
			PriceUnparsed: p.PriceUnparsed,
			Currency:      p.Currency,
			Site:          p.Site,
			ImageURLs:     p.ImageURLs,
		})
	}

	return rows, nil
}

// CSVExporter implements the runner's export hook by writing one CSV file
// per completed job and returning its path as the output reference.
type CSVExporter struct {
	store ProductGetter
	dir   string
}

func NewCSVExporter(store ProductGetter, dir string) *CSVExporter {
	return &CSVExporter{store: store, dir: dir}
}

func (e *CSVExporter) Export(ctx context.Context, job jobs.Job) (string, error) {
	rows, err := BuildRows(ctx, e.store, job)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	path := filepath.Join(e.dir, job.ID+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := WriteCSV(f, rows); err != nil {
		return "", err
	}

	return path, nil
}

// WriteCSV renders rows with a fixed header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	header := []string{"product_id", "url", "name", "description", "price", "price_unparsed", "currency", "site", "image_urls"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			r.ProductID,
			r.URL,
			r.Name,
			r.Description,
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			strconv.FormatBool(r.PriceUnparsed),
			r.Currency,
			r.Site,
			strings.Join(r.ImageURLs, " "),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// shorten truncates at a word boundary with an ellipsis, matching how the
// export surface presents long descriptions.
func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}

	cut := s[:max]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
