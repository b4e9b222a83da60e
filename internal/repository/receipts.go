// Package repository holds the Postgres persistence layer. The corp and
// soleprop entities keep separate schemas with identical table shapes;
// every query routes through Entity.Schema(). Cross-entity data lives in
// the shared schema.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/pkg/database"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// ReceiptRepository persists receipts and their line items
type ReceiptRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a receipt repository
func NewReceiptRepository(db *database.DB, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{db: db, logger: logger}
}

const receiptColumns = `id, source, status, content_hash, original_file_path,
	ocr_method, ocr_confidence, vendor_guess, purchase_date, invoice_number,
	currency, subtotal, tax_total, total, is_bill, payment_terms, due_date,
	validation_warnings, parse_errors, error_message, created_at, updated_at`

// Create inserts a new receipt into the entity's schema. Only the intake
// fields are populated at this point; parsing fills in the rest later.
func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	if !receipt.Entity.Valid() {
		return fmt.Errorf("invalid entity %q", receipt.Entity)
	}
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.receipts (id, source, status, content_hash, original_file_path, currency)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		receipt.Entity.Schema())

	_, err := r.db.Pool.Exec(ctx, query,
		receipt.ID, receipt.Source, receipt.Status,
		receipt.ContentHash, receipt.OriginalFilePath, receipt.Currency)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	r.logger.Info("Receipt created",
		zap.String("receipt_id", receipt.ID.String()),
		zap.String("entity", string(receipt.Entity)),
		zap.String("source", string(receipt.Source)))
	return nil
}

// FindByContentHash looks for an existing receipt with the same file
// content in the entity's schema. Returns nil when the file is new.
func (r *ReceiptRepository) FindByContentHash(ctx context.Context, entity models.Entity, hash string) (*models.Receipt, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.receipts WHERE content_hash = $1`,
		receiptColumns, entity.Schema())

	receipt, err := r.scanOne(ctx, entity, query, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return receipt, err
}

// GetByID fetches a receipt. When entity is known it reads one schema;
// otherwise it searches both sets of books.
func (r *ReceiptRepository) GetByID(ctx context.Context, id uuid.UUID, entity models.Entity) (*models.Receipt, error) {
	entities := []models.Entity{entity}
	if !entity.Valid() {
		entities = models.Entities()
	}

	for _, e := range entities {
		query := fmt.Sprintf(`SELECT %s FROM %s.receipts WHERE id = $1`,
			receiptColumns, e.Schema())
		receipt, err := r.scanOne(ctx, e, query, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return receipt, nil
	}
	return nil, ErrNotFound
}

// ListFilter narrows a receipt listing
type ListFilter struct {
	Entity models.Entity
	Status models.ReceiptStatus
	Limit  int
	Offset int
}

// List returns receipts for one entity, newest first
func (r *ReceiptRepository) List(ctx context.Context, filter ListFilter) ([]models.Receipt, error) {
	if !filter.Entity.Valid() {
		return nil, fmt.Errorf("invalid entity %q", filter.Entity)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM %s.receipts`, receiptColumns, filter.Entity.Schema())
	args := []interface{}{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, filter.Limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows, filter.Entity)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

// UpdateStatus moves a receipt through the pipeline states
func (r *ReceiptRepository) UpdateStatus(ctx context.Context, entity models.Entity, id uuid.UUID, status models.ReceiptStatus, errorMessage string) error {
	query := fmt.Sprintf(`
		UPDATE %s.receipts
		SET status = $1, error_message = NULLIF($2, ''), updated_at = now()
		WHERE id = $3`, entity.Schema())

	tag, err := r.db.Pool.Exec(ctx, query, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update receipt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveParseResult writes everything the pipeline extracted: OCR fields,
// parsed totals, and the full line item set, in one transaction. Reruns
// replace prior lines so reprocessing is idempotent.
func (r *ReceiptRepository) SaveParseResult(ctx context.Context, entity models.Entity, id uuid.UUID, parsed *models.NormalizedReceipt, ocrMethod string, ocrConfidence float64) error {
	schema := entity.Schema()

	warnings, err := json.Marshal(parsed.Warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}
	parseErrors, err := json.Marshal(parsed.ParseErrors)
	if err != nil {
		return fmt.Errorf("failed to encode parse errors: %w", err)
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`
			UPDATE %s.receipts
			SET ocr_method = $1, ocr_confidence = $2, vendor_guess = $3,
			    purchase_date = $4, invoice_number = NULLIF($5, ''),
			    subtotal = $6, tax_total = $7, total = $8,
			    is_bill = $9, payment_terms = NULLIF($10, ''), due_date = $11,
			    validation_warnings = $12, parse_errors = $13, updated_at = now()
			WHERE id = $14`, schema)

		tag, err := tx.Exec(ctx, query,
			ocrMethod, ocrConfidence, parsed.VendorGuess,
			parsed.PurchaseDate, parsed.InvoiceNumber,
			parsed.Subtotal, parsed.TaxTotal, parsed.Total,
			parsed.IsBill, parsed.PaymentTerms, parsed.DueDate,
			warnings, parseErrors, id)
		if err != nil {
			return fmt.Errorf("failed to update receipt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s.receipt_line_items WHERE receipt_id = $1`, schema), id); err != nil {
			return fmt.Errorf("failed to clear prior line items: %w", err)
		}

		return r.insertLines(ctx, tx, schema, id, parsed.Lines)
	})
}

// insertLines writes the line items under savepoints so one bad line
// never discards its siblings: the failing insert rolls back alone, gets
// logged, and the rest of the save still commits.
func (r *ReceiptRepository) insertLines(ctx context.Context, tx pgx.Tx, schema string, id uuid.UUID, lines []models.ReceiptLine) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.receipt_line_items
			(id, receipt_id, line_index, line_type, raw_text, vendor_sku,
			 item_description, quantity, unit_price, line_total,
			 tax_flag, tax_amount, account_code, product_category,
			 categorization_source, confidence, needs_review, ai_cost, bounding_box)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,
			NULLIF($13,''),NULLIF($14,''),NULLIF($15,''),$16,$17,$18,$19)`, schema)

	for i := range lines {
		line := &lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.ReceiptID = id
		line.LineIndex = i

		var box []byte
		if line.BoundingBox != nil {
			var err error
			box, err = json.Marshal(line.BoundingBox)
			if err != nil {
				return fmt.Errorf("failed to encode bounding box: %w", err)
			}
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to open savepoint: %w", err)
		}
		_, err = sp.Exec(ctx, query,
			line.ID, line.ReceiptID, line.LineIndex, line.LineType,
			line.RawText, line.VendorSKU, line.ItemDescription,
			line.Quantity, line.UnitPrice, line.LineTotal,
			line.TaxFlag, line.TaxAmount, line.AccountCode, line.ProductCategory,
			string(line.CategorizationSource), line.Confidence, line.NeedsReview,
			line.AICost, box)
		if err != nil {
			_ = sp.Rollback(ctx)
			r.logger.Error("Skipping line item that failed to insert",
				zap.String("receipt_id", id.String()),
				zap.Int("line_index", i),
				zap.String("raw_text", line.RawText),
				zap.Error(err))
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("failed to release savepoint for line %d: %w", i, err)
		}
	}
	return nil
}

// UpdateFilePath records where the original file ended up after the
// post-parse relocation into its vendor/date prefix
func (r *ReceiptRepository) UpdateFilePath(ctx context.Context, entity models.Entity, id uuid.UUID, path string) error {
	query := fmt.Sprintf(`
		UPDATE %s.receipts SET original_file_path = $1, updated_at = now() WHERE id = $2`,
		entity.Schema())

	tag, err := r.db.Pool.Exec(ctx, query, path, id)
	if err != nil {
		return fmt.Errorf("failed to update receipt file path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetLines returns a receipt's line items in order
func (r *ReceiptRepository) GetLines(ctx context.Context, entity models.Entity, receiptID uuid.UUID) ([]models.ReceiptLine, error) {
	query := fmt.Sprintf(`
		SELECT id, receipt_id, line_index, line_type, raw_text,
		       COALESCE(vendor_sku, ''), item_description, quantity, unit_price,
		       line_total, tax_flag, tax_amount, COALESCE(account_code, ''),
		       COALESCE(product_category, ''), COALESCE(categorization_source, ''),
		       confidence, needs_review, COALESCE(review_status, ''),
		       COALESCE(reviewed_by, ''), reviewed_at, ai_cost, bounding_box, created_at
		FROM %s.receipt_line_items
		WHERE receipt_id = $1
		ORDER BY line_index`, entity.Schema())

	rows, err := r.db.Pool.Query(ctx, query, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch line items: %w", err)
	}
	defer rows.Close()

	var lines []models.ReceiptLine
	for rows.Next() {
		var line models.ReceiptLine
		var source, reviewStatus string
		var box []byte
		err := rows.Scan(&line.ID, &line.ReceiptID, &line.LineIndex, &line.LineType,
			&line.RawText, &line.VendorSKU, &line.ItemDescription,
			&line.Quantity, &line.UnitPrice, &line.LineTotal,
			&line.TaxFlag, &line.TaxAmount, &line.AccountCode,
			&line.ProductCategory, &source,
			&line.Confidence, &line.NeedsReview, &reviewStatus,
			&line.ReviewedBy, &line.ReviewedAt, &line.AICost, &box, &line.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		line.CategorizationSource = models.CategorizationSource(source)
		line.ReviewStatus = models.ReviewStatus(reviewStatus)
		if len(box) > 0 {
			line.BoundingBox = &models.BoundingBox{}
			if err := json.Unmarshal(box, line.BoundingBox); err != nil {
				return nil, fmt.Errorf("failed to decode bounding box: %w", err)
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetLine fetches one line item by primary key
func (r *ReceiptRepository) GetLine(ctx context.Context, entity models.Entity, lineID uuid.UUID) (*models.ReceiptLine, error) {
	query := fmt.Sprintf(`
		SELECT receipt_id FROM %s.receipt_line_items WHERE id = $1`, entity.Schema())

	var receiptID uuid.UUID
	err := r.db.Pool.QueryRow(ctx, query, lineID).Scan(&receiptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch line item: %w", err)
	}

	lines, err := r.GetLines(ctx, entity, receiptID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].ID == lineID {
			return &lines[i], nil
		}
	}
	return nil, ErrNotFound
}

// UpdateLineCategorization applies a reviewer's correction or an
// automated categorization to one line
func (r *ReceiptRepository) UpdateLineCategorization(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, category, accountCode string, source models.CategorizationSource, confidence float64, needsReview bool) error {
	query := fmt.Sprintf(`
		UPDATE %s.receipt_line_items
		SET product_category = NULLIF($1, ''), account_code = NULLIF($2, ''),
		    categorization_source = $3, confidence = $4, needs_review = $5
		WHERE id = $6`, entity.Schema())

	tag, err := tx.Exec(ctx, query, category, accountCode, string(source), confidence, needsReview, lineID)
	if err != nil {
		return fmt.Errorf("failed to update line categorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExportRow is one line of the accountant export: a line item joined
// with its receipt header
type ExportRow struct {
	Entity        models.Entity
	PurchaseDate  *time.Time
	Vendor        string
	InvoiceNumber string
	Description   string
	SKU           string
	Quantity      decimal.Decimal
	LineTotal     decimal.Decimal
	TaxFlag       models.TaxFlag
	TaxAmount     decimal.Decimal
	AccountCode   string
	Category      string
	Confidence    float64
	NeedsReview   bool
}

// ListLinesForExport returns approved line items joined with their
// receipt header for a date range, both entities, ordered by date
func (r *ReceiptRepository) ListLinesForExport(ctx context.Context, from, to time.Time) ([]ExportRow, error) {
	var out []ExportRow
	for _, entity := range models.Entities() {
		query := fmt.Sprintf(`
			SELECT r.purchase_date, COALESCE(r.vendor_guess, ''), COALESCE(r.invoice_number, ''),
			       l.item_description, COALESCE(l.vendor_sku, ''), l.quantity, l.line_total,
			       l.tax_flag, l.tax_amount, COALESCE(l.account_code, ''),
			       COALESCE(l.product_category, ''), l.confidence, l.needs_review
			FROM %s.receipt_line_items l
			JOIN %s.receipts r ON r.id = l.receipt_id
			WHERE r.purchase_date >= $1 AND r.purchase_date <= $2
			  AND r.status IN ('approved', 'review')
			ORDER BY r.purchase_date, r.id, l.line_index`,
			entity.Schema(), entity.Schema())

		rows, err := r.db.Pool.Query(ctx, query, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to query export rows: %w", err)
		}
		for rows.Next() {
			row := ExportRow{Entity: entity}
			err := rows.Scan(&row.PurchaseDate, &row.Vendor, &row.InvoiceNumber,
				&row.Description, &row.SKU, &row.Quantity, &row.LineTotal,
				&row.TaxFlag, &row.TaxAmount, &row.AccountCode,
				&row.Category, &row.Confidence, &row.NeedsReview)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan export row: %w", err)
			}
			out = append(out, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ReceiptRepository) scanOne(ctx context.Context, entity models.Entity, query string, args ...interface{}) (*models.Receipt, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanReceipt(rows, entity)
}

func scanReceipt(rows pgx.Rows, entity models.Entity) (*models.Receipt, error) {
	var receipt models.Receipt
	var ocrMethod, vendorGuess, invoiceNumber, paymentTerms, errorMessage *string
	var warnings, parseErrors []byte

	err := rows.Scan(&receipt.ID, &receipt.Source, &receipt.Status,
		&receipt.ContentHash, &receipt.OriginalFilePath,
		&ocrMethod, &receipt.OCRConfidence, &vendorGuess,
		&receipt.PurchaseDate, &invoiceNumber, &receipt.Currency,
		&receipt.Subtotal, &receipt.TaxTotal, &receipt.Total,
		&receipt.IsBill, &paymentTerms, &receipt.DueDate,
		&warnings, &parseErrors, &errorMessage,
		&receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan receipt: %w", err)
	}

	receipt.Entity = entity
	receipt.OCRMethod = deref(ocrMethod)
	receipt.VendorGuess = deref(vendorGuess)
	receipt.InvoiceNumber = deref(invoiceNumber)
	receipt.PaymentTerms = deref(paymentTerms)
	receipt.ErrorMessage = deref(errorMessage)

	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &receipt.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings: %w", err)
		}
	}
	if len(parseErrors) > 0 {
		if err := json.Unmarshal(parseErrors, &receipt.ParseErrors); err != nil {
			return nil, fmt.Errorf("failed to decode parse errors: %w", err)
		}
	}
	return &receipt, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
