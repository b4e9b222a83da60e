package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/pkg/database"
)

// ProductCache is the Postgres SKU cache in shared.product_mappings.
// Both entities share it; a Costco SKU means the same product no matter
// whose card paid for it.
type ProductCache struct {
	db     *database.DB
	logger *zap.Logger
}

// NewProductCache creates the SKU cache repository
func NewProductCache(db *database.DB, logger *zap.Logger) *ProductCache {
	return &ProductCache{db: db, logger: logger}
}

// cacheKey hashes vendor and SKU into the primary key. Vendor casing and
// SKU whitespace vary between OCR runs, so both are normalized first.
func cacheKey(vendor, sku string) string {
	normalized := strings.ToLower(strings.TrimSpace(vendor)) + "||" + strings.TrimSpace(sku)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Lookup fetches a cached mapping and bumps its hit counter in the same
// statement. Returns nil on a miss.
func (c *ProductCache) Lookup(ctx context.Context, vendor, sku string) (*categorization.CachedMapping, error) {
	query := `
		UPDATE shared.product_mappings
		SET times_seen = times_seen + 1, last_seen_at = now()
		WHERE cache_key = $1
		RETURNING vendor, sku, normalized_description, category, account_code,
		          confidence, times_seen, source`

	var m categorization.CachedMapping
	var category string
	err := c.db.Pool.QueryRow(ctx, query, cacheKey(vendor, sku)).Scan(
		&m.Vendor, &m.SKU, &m.NormalizedDescription, &category,
		&m.AccountCode, &m.Confidence, &m.TimesSeen, &m.Source)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up product mapping: %w", err)
	}

	m.Category = categorization.Category(category)
	return &m, nil
}

// productStoreSQL only advances the hit counter when the key already
// exists. A cached answer never changes from the automated path; once a
// reviewer has corrected a SKU, a later LLM run must not undo it. The
// only sanctioned overwrite is productCorrectionSQL.
const productStoreSQL = `
		INSERT INTO shared.product_mappings
			(cache_key, vendor, sku, normalized_description, category,
			 account_code, confidence, times_seen, source, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, now())
		ON CONFLICT (cache_key) DO UPDATE SET
			times_seen = shared.product_mappings.times_seen + 1,
			last_seen_at = now()`

// productCorrectionSQL is the reviewer path: it replaces the cached
// answer and keeps the hit counter running.
const productCorrectionSQL = `
		INSERT INTO shared.product_mappings
			(cache_key, vendor, sku, normalized_description, category,
			 account_code, confidence, times_seen, source, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, now())
		ON CONFLICT (cache_key) DO UPDATE SET
			normalized_description = EXCLUDED.normalized_description,
			category = EXCLUDED.category,
			account_code = EXCLUDED.account_code,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			times_seen = shared.product_mappings.times_seen + 1,
			last_seen_at = now()`

// Store inserts a mapping. Re-recognizing a known SKU only bumps its hit
// counter; the cached answer stays as-is.
func (c *ProductCache) Store(ctx context.Context, mapping categorization.CachedMapping) error {
	_, err := c.db.Pool.Exec(ctx, productStoreSQL,
		cacheKey(mapping.Vendor, mapping.SKU),
		strings.TrimSpace(mapping.Vendor), strings.TrimSpace(mapping.SKU),
		mapping.NormalizedDescription, string(mapping.Category),
		mapping.AccountCode, mapping.Confidence, mapping.Source)
	if err != nil {
		return fmt.Errorf("failed to store product mapping: %w", err)
	}

	c.logger.Debug("Product mapping cached",
		zap.String("vendor", mapping.Vendor),
		zap.String("sku", mapping.SKU),
		zap.String("category", string(mapping.Category)))
	return nil
}

// StoreCorrection writes a reviewer's answer inside an existing
// transaction so the correction and its audit row commit together
func (c *ProductCache) StoreCorrection(ctx context.Context, tx pgx.Tx, mapping categorization.CachedMapping) error {
	_, err := tx.Exec(ctx, productCorrectionSQL,
		cacheKey(mapping.Vendor, mapping.SKU),
		strings.TrimSpace(mapping.Vendor), strings.TrimSpace(mapping.SKU),
		mapping.NormalizedDescription, string(mapping.Category),
		mapping.AccountCode, mapping.Confidence, mapping.Source)
	if err != nil {
		return fmt.Errorf("failed to store product mapping: %w", err)
	}
	return nil
}

// CacheStats summarizes the state of the SKU cache
type CacheStats struct {
	TotalMappings   int    `json:"total_mappings"`
	DistinctVendors int    `json:"distinct_vendors"`
	TotalHits       int    `json:"total_hits"`
	TopVendor       string `json:"top_vendor,omitempty"`
}

// Stats reports cache totals for the metrics endpoint
func (c *ProductCache) Stats(ctx context.Context) (*CacheStats, error) {
	var stats CacheStats

	err := c.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT vendor), COALESCE(SUM(times_seen), 0)
		FROM shared.product_mappings`).Scan(
		&stats.TotalMappings, &stats.DistinctVendors, &stats.TotalHits)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache stats: %w", err)
	}

	err = c.db.Pool.QueryRow(ctx, `
		SELECT vendor FROM shared.product_mappings
		GROUP BY vendor ORDER BY SUM(times_seen) DESC LIMIT 1`).Scan(&stats.TopVendor)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query top vendor: %w", err)
	}

	return &stats, nil
}
