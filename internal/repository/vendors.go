package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/pkg/database"
)

// trigram similarity below this is noise, not a vendor match
const minVendorSimilarity = 0.3

// Vendor is one canonical vendor in shared.vendor_registry
type Vendor struct {
	ID            int64         `json:"id"`
	CanonicalName string        `json:"canonical_name"`
	DefaultEntity models.Entity `json:"default_entity"`
	Aliases       []string      `json:"aliases,omitempty"`
	PaymentTerms  string        `json:"payment_terms,omitempty"`
	ParserName    string        `json:"parser_name,omitempty"`
}

// VendorRegistry resolves OCR'd vendor names to canonical vendors.
// Matching is exact on alias first, then pg_trgm similarity, because the
// same vendor header OCRs a dozen different ways.
type VendorRegistry struct {
	db     *database.DB
	logger *zap.Logger
}

// NewVendorRegistry creates the vendor registry repository
func NewVendorRegistry(db *database.DB, logger *zap.Logger) *VendorRegistry {
	return &VendorRegistry{db: db, logger: logger}
}

// Resolve finds the canonical vendor for a raw name. Returns nil when
// nothing matches well enough; an unmatched vendor is not an error.
func (v *VendorRegistry) Resolve(ctx context.Context, rawName string) (*Vendor, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return nil, nil
	}

	vendor, err := v.exactMatch(ctx, name)
	if err != nil {
		return nil, err
	}
	if vendor != nil {
		return vendor, nil
	}

	return v.fuzzyMatch(ctx, name)
}

func (v *VendorRegistry) exactMatch(ctx context.Context, name string) (*Vendor, error) {
	query := `
		SELECT r.id, r.canonical_name, r.default_entity,
		       COALESCE(r.payment_terms, ''), COALESCE(r.parser_name, '')
		FROM shared.vendor_registry r
		JOIN shared.vendor_aliases a ON a.vendor_id = r.id
		WHERE lower(a.alias) = lower($1)
		LIMIT 1`

	var vendor Vendor
	err := v.db.Pool.QueryRow(ctx, query, name).Scan(
		&vendor.ID, &vendor.CanonicalName, &vendor.DefaultEntity,
		&vendor.PaymentTerms, &vendor.ParserName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match vendor alias: %w", err)
	}
	return &vendor, nil
}

func (v *VendorRegistry) fuzzyMatch(ctx context.Context, name string) (*Vendor, error) {
	query := `
		SELECT r.id, r.canonical_name, r.default_entity,
		       COALESCE(r.payment_terms, ''), COALESCE(r.parser_name, ''),
		       similarity(a.alias, $1) AS sim
		FROM shared.vendor_registry r
		JOIN shared.vendor_aliases a ON a.vendor_id = r.id
		WHERE similarity(a.alias, $1) >= $2
		ORDER BY sim DESC
		LIMIT 1`

	var vendor Vendor
	var sim float64
	err := v.db.Pool.QueryRow(ctx, query, name, minVendorSimilarity).Scan(
		&vendor.ID, &vendor.CanonicalName, &vendor.DefaultEntity,
		&vendor.PaymentTerms, &vendor.ParserName, &sim)
	if errors.Is(err, pgx.ErrNoRows) {
		v.logger.Debug("No vendor match", zap.String("raw_name", name))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fuzzy-match vendor: %w", err)
	}

	v.logger.Info("Vendor resolved by similarity",
		zap.String("raw_name", name),
		zap.String("canonical", vendor.CanonicalName),
		zap.Float64("similarity", sim))
	return &vendor, nil
}

// Register creates a canonical vendor with its initial aliases
func (v *VendorRegistry) Register(ctx context.Context, vendor *Vendor) error {
	return v.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO shared.vendor_registry
				(canonical_name, default_entity, payment_terms, parser_name)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
			RETURNING id`,
			vendor.CanonicalName, vendor.DefaultEntity,
			vendor.PaymentTerms, vendor.ParserName).Scan(&vendor.ID)
		if err != nil {
			return fmt.Errorf("failed to insert vendor: %w", err)
		}

		aliases := vendor.Aliases
		if len(aliases) == 0 {
			aliases = []string{vendor.CanonicalName}
		}
		for _, alias := range aliases {
			if _, err := tx.Exec(ctx, `
				INSERT INTO shared.vendor_aliases (vendor_id, alias)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				vendor.ID, strings.TrimSpace(alias)); err != nil {
				return fmt.Errorf("failed to insert vendor alias: %w", err)
			}
		}
		return nil
	})
}

// AddAlias records one more way a vendor's name shows up on receipts
func (v *VendorRegistry) AddAlias(ctx context.Context, vendorID int64, alias string) error {
	_, err := v.db.Pool.Exec(ctx, `
		INSERT INTO shared.vendor_aliases (vendor_id, alias)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		vendorID, strings.TrimSpace(alias))
	if err != nil {
		return fmt.Errorf("failed to add vendor alias: %w", err)
	}
	return nil
}
