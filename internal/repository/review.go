package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/pkg/database"
)

// minutes of human attention one pending item costs, on average
const reviewMinutesPerItem = 2

// ReviewRepository reads the per-entity review materialized views and
// writes the shared audit trail
type ReviewRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReviewRepository creates the review queue repository
func NewReviewRepository(db *database.DB, logger *zap.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, logger: logger}
}

// PendingFilter narrows the pending queue listing
type PendingFilter struct {
	Entity        models.Entity // empty means both
	MaxConfidence float64       // 0 means no cap
	MinConfidence float64
	Limit         int
	Offset        int
}

const reviewViewColumns = `line_id, receipt_id, vendor_guess, item_description,
	raw_text, line_total, product_category, account_code, confidence,
	snoozed_until, created_at`

// ListPending returns reviewables sorted hardest-first: lowest
// confidence at the top. Snoozed items stay hidden until their time.
func (r *ReviewRepository) ListPending(ctx context.Context, filter PendingFilter) ([]models.Reviewable, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	entities := models.Entities()
	if filter.Entity.Valid() {
		entities = []models.Entity{filter.Entity}
	}

	var out []models.Reviewable
	for _, entity := range entities {
		query := fmt.Sprintf(`
			SELECT %s
			FROM %s.view_review_receipt_line_items
			WHERE (snoozed_until IS NULL OR snoozed_until <= now())
			  AND confidence >= $1 AND ($2 = 0 OR confidence < $2)
			ORDER BY confidence ASC, created_at ASC
			LIMIT $3 OFFSET $4`,
			reviewViewColumns, entity.Schema())

		rows, err := r.db.Pool.Query(ctx, query,
			filter.MinConfidence, filter.MaxConfidence, filter.Limit, filter.Offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending reviews: %w", err)
		}
		items, err := scanReviewables(rows, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// GetReviewable fetches one queue item by its composite id
func (r *ReviewRepository) GetReviewable(ctx context.Context, id string) (*models.Reviewable, error) {
	typ, entity, pk, err := models.ParseReviewableID(id)
	if err != nil {
		return nil, err
	}
	if typ != models.ReviewableReceiptLine {
		return nil, fmt.Errorf("unsupported reviewable type %q", typ)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.view_review_receipt_line_items
		WHERE line_id = $1`,
		reviewViewColumns, entity.Schema())

	rows, err := r.db.Pool.Query(ctx, query, pk)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviewable: %w", err)
	}
	items, err := scanReviewables(rows, entity)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

// InsertActivity appends one audit row inside the caller's transaction.
// The action and its audit trail always commit or roll back together.
func (r *ReviewRepository) InsertActivity(ctx context.Context, tx pgx.Tx, activity models.ReviewActivity) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO shared.review_activity (reviewable_id, entity, action, reviewer, notes)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))`,
		activity.ReviewableID, activity.Entity, activity.Action,
		activity.Reviewer, activity.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert review activity: %w", err)
	}
	return nil
}

// SetSnooze hides a line from the queue until the given time
func (r *ReviewRepository) SetSnooze(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, until *time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s.receipt_line_items SET snoozed_until = $1 WHERE id = $2`,
		entity.Schema())
	tag, err := tx.Exec(ctx, query, until, lineID)
	if err != nil {
		return fmt.Errorf("failed to snooze line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReviewState records the reviewer's outcome on a line. Approved,
// rejected and corrected lines leave the queue; needs_info keeps the
// line visible while it waits for an answer.
func (r *ReviewRepository) SetReviewState(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, status models.ReviewStatus, reviewer string) error {
	needsReview := status == models.ReviewNeedsInfo

	query := fmt.Sprintf(`
		UPDATE %s.receipt_line_items
		SET needs_review = $1, review_status = $2,
		    reviewed_by = NULLIF($3, ''), reviewed_at = now()
		WHERE id = $4`,
		entity.Schema())
	tag, err := tx.Exec(ctx, query, needsReview, string(status), reviewer, lineID)
	if err != nil {
		return fmt.Errorf("failed to set review state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RefreshViews rebuilds both entities' review views. CONCURRENTLY keeps
// readers unblocked; call after commit, never inside the transaction.
func (r *ReviewRepository) RefreshViews(ctx context.Context) error {
	for _, entity := range models.Entities() {
		query := fmt.Sprintf(
			`REFRESH MATERIALIZED VIEW CONCURRENTLY %s.view_review_receipt_line_items`,
			entity.Schema())
		if _, err := r.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to refresh review view for %s: %w", entity, err)
		}
	}
	return nil
}

// Metrics summarizes the queue for the dashboard
func (r *ReviewRepository) Metrics(ctx context.Context) (*models.ReviewMetrics, error) {
	metrics := &models.ReviewMetrics{
		PendingByEntity: make(map[models.Entity]int),
		PendingByType:   make(map[string]int),
	}

	totalPending := 0
	for _, entity := range models.Entities() {
		query := fmt.Sprintf(`
			SELECT
				COUNT(*),
				COUNT(*) FILTER (WHERE confidence < 0.80),
				COUNT(*) FILTER (WHERE confidence >= 0.80 AND confidence < 0.90),
				COUNT(*) FILTER (WHERE confidence >= 0.90)
			FROM %s.view_review_receipt_line_items
			WHERE snoozed_until IS NULL OR snoozed_until <= now()`,
			entity.Schema())

		var total, low, medium, high int
		if err := r.db.Pool.QueryRow(ctx, query).Scan(&total, &low, &medium, &high); err != nil {
			return nil, fmt.Errorf("failed to query review metrics: %w", err)
		}

		metrics.PendingByEntity[entity] = total
		metrics.Bands.Low += low
		metrics.Bands.Medium += medium
		metrics.Bands.High += high
		totalPending += total
	}
	metrics.PendingByType[string(models.ReviewableReceiptLine)] = totalPending
	metrics.EstimatedMinutes = totalPending * reviewMinutesPerItem

	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM shared.review_activity
		WHERE created_at >= date_trunc('day', now())`).Scan(&metrics.ActionsToday)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to count today's actions: %w", err)
	}

	return metrics, nil
}

func scanReviewables(rows pgx.Rows, entity models.Entity) ([]models.Reviewable, error) {
	defer rows.Close()

	var out []models.Reviewable
	for rows.Next() {
		var (
			lineID, receiptID            uuid.UUID
			vendor, description, rawText string
			category, accountCode        string
			lineTotal                    string
			confidence                   float64
			snoozedUntil                 *time.Time
			item                         models.Reviewable
		)
		err := rows.Scan(&lineID, &receiptID, &vendor, &description, &rawText,
			&lineTotal, &category, &accountCode, &confidence,
			&snoozedUntil, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reviewable: %w", err)
		}

		item.ID = models.ReviewableID(models.ReviewableReceiptLine, entity, lineID)
		item.Type = models.ReviewableReceiptLine
		item.Entity = entity
		item.PK = lineID
		item.Title = description
		item.Description = rawText
		item.Vendor = vendor
		item.Confidence = confidence
		item.Priority = priorityFor(confidence)
		item.Actions = []models.ReviewAction{
			models.ActionApprove, models.ActionReject, models.ActionCorrect,
			models.ActionSnooze, models.ActionReassign, models.ActionComment,
			models.ActionRequestInfo,
		}
		item.Context = map[string]interface{}{
			"receipt_id":   receiptID.String(),
			"line_total":   lineTotal,
			"category":     category,
			"account_code": accountCode,
		}
		if snoozedUntil != nil {
			item.Context["snoozed_until"] = snoozedUntil.Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// priorityFor ranks items by how badly they need a human
func priorityFor(confidence float64) int {
	switch {
	case confidence < 0.80:
		return 1
	case confidence < 0.90:
		return 2
	default:
		return 3
	}
}
