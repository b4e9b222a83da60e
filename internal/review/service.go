// Package review drives the human review queue: listing what needs
// eyes, applying reviewer decisions, and keeping the audit trail.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/repository"
)

// how long a snooze without an explicit timestamp hides a line
const defaultSnooze = 24 * time.Hour

// TxRunner runs a function inside one database transaction
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// LineStore is the slice of the receipt repository the service needs
type LineStore interface {
	GetLine(ctx context.Context, entity models.Entity, lineID uuid.UUID) (*models.ReceiptLine, error)
	GetByID(ctx context.Context, id uuid.UUID, entity models.Entity) (*models.Receipt, error)
	UpdateLineCategorization(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, category, accountCode string, source models.CategorizationSource, confidence float64, needsReview bool) error
}

// QueueStore is the slice of the review repository the service needs
type QueueStore interface {
	ListPending(ctx context.Context, filter repository.PendingFilter) ([]models.Reviewable, error)
	GetReviewable(ctx context.Context, id string) (*models.Reviewable, error)
	InsertActivity(ctx context.Context, tx pgx.Tx, activity models.ReviewActivity) error
	SetSnooze(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, until *time.Time) error
	SetReviewState(ctx context.Context, tx pgx.Tx, entity models.Entity, lineID uuid.UUID, status models.ReviewStatus, reviewer string) error
	RefreshViews(ctx context.Context) error
	Metrics(ctx context.Context) (*models.ReviewMetrics, error)
}

// CorrectionCache writes reviewer answers into the SKU cache
type CorrectionCache interface {
	StoreCorrection(ctx context.Context, tx pgx.Tx, mapping categorization.CachedMapping) error
}

// Service applies review actions. Every action commits its line change
// and audit row in one transaction, then refreshes the queue views.
type Service struct {
	tx     TxRunner
	lines  LineStore
	queue  QueueStore
	cache  CorrectionCache
	logger *zap.Logger
}

// NewService wires the review service
func NewService(tx TxRunner, lines LineStore, queue QueueStore, cache CorrectionCache, logger *zap.Logger) *Service {
	return &Service{tx: tx, lines: lines, queue: queue, cache: cache, logger: logger}
}

// Pending lists queue items needing attention
func (s *Service) Pending(ctx context.Context, filter repository.PendingFilter) ([]models.Reviewable, error) {
	return s.queue.ListPending(ctx, filter)
}

// Get fetches one queue item
func (s *Service) Get(ctx context.Context, id string) (*models.Reviewable, error) {
	return s.queue.GetReviewable(ctx, id)
}

// Metrics reports queue health
func (s *Service) Metrics(ctx context.Context) (*models.ReviewMetrics, error) {
	return s.queue.Metrics(ctx)
}

// Act applies one reviewer decision to one queue item
func (s *Service) Act(ctx context.Context, id string, req models.ReviewRequest) error {
	if !req.Action.Valid() {
		return fmt.Errorf("unknown review action %q", req.Action)
	}

	typ, entity, pk, err := models.ParseReviewableID(id)
	if err != nil {
		return err
	}
	if typ != models.ReviewableReceiptLine {
		return fmt.Errorf("unsupported reviewable type %q", typ)
	}

	activity := models.ReviewActivity{
		ReviewableID: id,
		Entity:       entity,
		Action:       req.Action,
		Reviewer:     req.Reviewer,
		Notes:        req.Notes,
	}

	var refresh bool
	switch req.Action {
	case models.ActionApprove:
		refresh = true
		err = s.setState(ctx, entity, pk, models.ReviewApproved, req.Reviewer, activity)

	case models.ActionReject:
		refresh = true
		err = s.setState(ctx, entity, pk, models.ReviewRejected, req.Reviewer, activity)

	case models.ActionRequestInfo:
		// the line stays in the queue while it waits for an answer
		err = s.setState(ctx, entity, pk, models.ReviewNeedsInfo, req.Reviewer, activity)

	case models.ActionCorrect:
		refresh = true
		err = s.correct(ctx, entity, pk, req, activity)

	case models.ActionSnooze:
		until := req.SnoozeUntil
		if until == nil {
			t := time.Now().Add(defaultSnooze)
			until = &t
		}
		refresh = true
		err = s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
			if err := s.queue.SetSnooze(ctx, tx, entity, pk, until); err != nil {
				return err
			}
			return s.queue.InsertActivity(ctx, tx, activity)
		})

	case models.ActionReassign:
		if req.AssignTo == "" {
			return fmt.Errorf("reassign requires assign_to")
		}
		activity.Notes = fmt.Sprintf("assigned to %s: %s", req.AssignTo, req.Notes)
		err = s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
			return s.queue.InsertActivity(ctx, tx, activity)
		})

	case models.ActionComment:
		err = s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
			return s.queue.InsertActivity(ctx, tx, activity)
		})
	}
	if err != nil {
		return err
	}

	if refresh {
		if err := s.queue.RefreshViews(ctx); err != nil {
			// the action itself committed; a stale view self-heals on
			// the next refresh
			s.logger.Warn("Review view refresh failed", zap.Error(err))
		}
	}

	s.logger.Info("Review action applied",
		zap.String("reviewable_id", id),
		zap.String("action", string(req.Action)),
		zap.String("reviewer", req.Reviewer))
	return nil
}

// setState writes the reviewer's outcome and its audit row together
func (s *Service) setState(ctx context.Context, entity models.Entity, pk uuid.UUID, status models.ReviewStatus, reviewer string, activity models.ReviewActivity) error {
	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.queue.SetReviewState(ctx, tx, entity, pk, status, reviewer); err != nil {
			return err
		}
		return s.queue.InsertActivity(ctx, tx, activity)
	})
}

// correct rewrites a line's categorization from the reviewer's answer
// and teaches the SKU cache so the same product never comes back
func (s *Service) correct(ctx context.Context, entity models.Entity, pk uuid.UUID, req models.ReviewRequest, activity models.ReviewActivity) error {
	if req.Category == "" && req.AccountCode == "" {
		return fmt.Errorf("correct requires a category or account_code")
	}
	category := categorization.Category(req.Category)
	if req.Category != "" && !category.Valid() {
		return fmt.Errorf("unknown category %q", req.Category)
	}

	accountCode := req.AccountCode
	if accountCode == "" {
		accountCode = categorization.AccountCode(category)
	}

	line, err := s.lines.GetLine(ctx, entity, pk)
	if err != nil {
		return fmt.Errorf("failed to load line for correction: %w", err)
	}

	vendor := ""
	if receipt, err := s.lines.GetByID(ctx, line.ReceiptID, entity); err == nil {
		vendor = receipt.VendorGuess
	}

	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := s.lines.UpdateLineCategorization(ctx, tx, entity, pk,
			string(category), accountCode,
			models.CategorizedByCorrection, 1.0, false)
		if err != nil {
			return err
		}

		if line.VendorSKU != "" && category.Valid() {
			err := s.cache.StoreCorrection(ctx, tx, categorization.CachedMapping{
				Vendor:                vendor,
				SKU:                   line.VendorSKU,
				NormalizedDescription: line.ItemDescription,
				Category:              category,
				AccountCode:           accountCode,
				Confidence:            decimal.NewFromInt(1),
				Source:                string(models.CategorizedByCorrection),
			})
			if err != nil {
				return err
			}
		} else {
			s.logger.Info("Correction not cached, line has no SKU",
				zap.String("line_id", pk.String()))
		}

		if err := s.queue.SetReviewState(ctx, tx, entity, pk, models.ReviewCorrected, req.Reviewer); err != nil {
			return err
		}
		return s.queue.InsertActivity(ctx, tx, activity)
	})
}

// BatchResult reports the outcome of one item in a batch action
type BatchResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ActBatch applies the same action to many items, continuing past
// individual failures
func (s *Service) ActBatch(ctx context.Context, ids []string, req models.ReviewRequest) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		result := BatchResult{ID: id, OK: true}
		if err := s.Act(ctx, id, req); err != nil {
			result.OK = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}
