package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/models"
)

// InsertProduct stores a new product and assigns its identifier. The URL is
// the natural key; callers first check GetProductByURL to decide between
// insert and update.
func (db *DB) InsertProduct(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	images, err := json.Marshal(p.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	query := `
		INSERT INTO products
			(id, url, name, description, current_price, price_unparsed,
			 currency, image_urls, site, upc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err = db.pool.QueryRow(ctx, query,
		p.ID, p.URL, p.Name, p.Description, p.CurrentPrice, p.PriceUnparsed,
		p.Currency, images, p.Site, p.UPC,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	return nil
}

// UpdateProduct mutates an existing product in place, keyed by URL. The
// identifier, URL, site and creation timestamp never change.
func (db *DB) UpdateProduct(ctx context.Context, p *models.Product) error {
	images, err := json.Marshal(p.ImageURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	query := `
		UPDATE products SET
			name = $2,
			description = $3,
			current_price = $4,
			price_unparsed = $5,
			currency = $6,
			image_urls = $7,
			upc = $8,
			updated_at = NOW()
		WHERE url = $1
		RETURNING id, updated_at`

	err = db.pool.QueryRow(ctx, query,
		p.URL, p.Name, p.Description, p.CurrentPrice, p.PriceUnparsed,
		p.Currency, images, p.UPC,
	).Scan(&p.ID, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("product not found for url %s", p.URL)
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}

	return nil
}

// GetProductByURL returns the product tracked at url, or nil when the URL
// is not tracked yet.
func (db *DB) GetProductByURL(ctx context.Context, url string) (*models.Product, error) {
	return db.getProduct(ctx, `WHERE url = $1`, url)
}

// GetProductByID returns the product with the given identifier, or nil.
func (db *DB) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return db.getProduct(ctx, `WHERE id = $1`, id)
}

func (db *DB) getProduct(ctx context.Context, where string, arg interface{}) (*models.Product, error) {
	query := `
		SELECT id, url, name, description, current_price, price_unparsed,
		       currency, image_urls, site, COALESCE(upc, ''), created_at, updated_at
		FROM products ` + where

	p := &models.Product{}
	var images []byte

	err := db.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.URL, &p.Name, &p.Description, &p.CurrentPrice, &p.PriceUnparsed,
		&p.Currency, &images, &p.Site, &p.UPC, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if err := json.Unmarshal(images, &p.ImageURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
	}

	return p, nil
}

// ListProducts returns all tracked products, most recently updated first.
func (db *DB) ListProducts(ctx context.Context) ([]*models.Product, error) {
	query := `
		SELECT id, url, name, description, current_price, price_unparsed,
		       currency, image_urls, site, COALESCE(upc, ''), created_at, updated_at
		FROM products
		ORDER BY updated_at DESC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p := &models.Product{}
		var images []byte

		err := rows.Scan(
			&p.ID, &p.URL, &p.Name, &p.Description, &p.CurrentPrice, &p.PriceUnparsed,
			&p.Currency, &images, &p.Site, &p.UPC, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		if err := json.Unmarshal(images, &p.ImageURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
		}

		products = append(products, p)
	}

	return products, rows.Err()
}

// AppendObservation stores one immutable price observation. History rows
// are never updated or deleted.
func (db *DB) AppendObservation(ctx context.Context, o *models.PriceObservation) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO price_history (id, product_id, price, currency, unparsed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		o.ID, o.ProductID, o.Price, o.Currency, o.Unparsed, o.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append observation: %w", err)
	}

	return nil
}

// LatestObservation returns the most recent observation for a product, or
// nil when the product has no history yet.
func (db *DB) LatestObservation(ctx context.Context, productID string) (*models.PriceObservation, error) {
	query := `
		SELECT id, product_id, price, currency, unparsed, recorded_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	o := &models.PriceObservation{}
	err := db.pool.QueryRow(ctx, query, productID).Scan(
		&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.Unparsed, &o.RecordedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest observation: %w", err)
	}

	return o, nil
}

// ListObservations returns up to limit observations for a product, newest
// first.
func (db *DB) ListObservations(ctx context.Context, productID string, limit int) ([]*models.PriceObservation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, product_id, price, currency, unparsed, recorded_at
		FROM price_history
		WHERE product_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var out []*models.PriceObservation
	for rows.Next() {
		o := &models.PriceObservation{}
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.Unparsed, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out = append(out, o)
	}

	return out, rows.Err()
}
