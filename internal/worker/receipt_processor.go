package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/ocr"
	"github.com/curlys/curlys-books/internal/repository"
	"github.com/curlys/curlys-books/internal/storage"
)

// TaskTypeProcessReceipt is the work queue task the processor claims
const TaskTypeProcessReceipt = "process_receipt"

// ReceiptTask is the queued payload for one uploaded receipt
type ReceiptTask struct {
	ReceiptID uuid.UUID     `json:"receipt_id"`
	Entity    models.Entity `json:"entity"`
	FileKey   string        `json:"file_key"`
	Ext       string        `json:"ext"`
}

// ReceiptQueue is the slice of the work queue the processor needs
type ReceiptQueue interface {
	Claim(ctx context.Context, taskTypes []string) (*repository.Task, error)
	Ack(ctx context.Context, taskID uuid.UUID) error
	Nack(ctx context.Context, task *repository.Task, handlerErr error) (bool, error)
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReceiptStore is the slice of the receipt repository the processor needs
type ReceiptStore interface {
	UpdateStatus(ctx context.Context, entity models.Entity, id uuid.UUID, status models.ReceiptStatus, errorMessage string) error
	SaveParseResult(ctx context.Context, entity models.Entity, id uuid.UUID, parsed *models.NormalizedReceipt, ocrMethod string, ocrConfidence float64) error
	GetByID(ctx context.Context, id uuid.UUID, entity models.Entity) (*models.Receipt, error)
	UpdateFilePath(ctx context.Context, entity models.Entity, id uuid.UUID, path string) error
}

// Categorizer resolves one line to a GL account
type Categorizer interface {
	CategorizeLine(ctx context.Context, vendor, sku, rawDescription string, lineTotal decimal.Decimal) (*categorization.Result, error)
}

// TextExtractor turns a receipt file into text; the OCR engine in prod
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*ocr.Result, error)
}

// ReceiptParser turns OCR text into a normalized receipt
type ReceiptParser interface {
	Dispatch(text string, entity models.Entity) (*models.NormalizedReceipt, error)
}

// VendorResolver canonicalizes OCR'd vendor names via the registry.
// Optional; a nil resolver keeps the parser's guess.
type VendorResolver interface {
	Resolve(ctx context.Context, rawName string) (*repository.Vendor, error)
}

// ReceiptProcessorStatus reports current processor state
type ReceiptProcessorStatus struct {
	IsRunning      bool
	LastPolled     time.Time
	ProcessedCount int
	FailedCount    int
	IsHealthy      bool
	LastError      error
}

// ReceiptProcessor drives uploaded receipts through the pipeline:
// OCR, vendor parsing, categorization, persistence, derivative images.
// It polls the shared work queue so any number of processors can run.
type ReceiptProcessor struct {
	pollInterval   time.Duration
	batchSize      int
	processTimeout time.Duration
	staleAfter     time.Duration

	queue       ReceiptQueue
	receipts    ReceiptStore
	store       storage.Store
	engine      TextExtractor
	dispatcher  ReceiptParser
	categorizer Categorizer
	vendors     VendorResolver
	images      ImageConfig
	logger      *zap.Logger

	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isRunning      bool
	lastPolled     time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// ImageConfig sizes the derivative JPEGs
type ImageConfig struct {
	NormalizedMaxPixels int
	NormalizedQuality   int
	ThumbnailSize       int
	ThumbnailQuality    int
}

// PollConfig shapes the polling loop. Zero values fall back to the
// defaults, so tests can pass PollConfig{}.
type PollConfig struct {
	Interval  time.Duration
	BatchSize int // tasks per tick; 0 means drain until empty
}

// NewReceiptProcessor creates the pipeline worker
func NewReceiptProcessor(
	queue ReceiptQueue,
	receipts ReceiptStore,
	store storage.Store,
	engine TextExtractor,
	dispatcher ReceiptParser,
	categorizer Categorizer,
	vendors VendorResolver,
	poll PollConfig,
	images ImageConfig,
	logger *zap.Logger,
) *ReceiptProcessor {
	if poll.Interval <= 0 {
		poll.Interval = 5 * time.Second
	}
	return &ReceiptProcessor{
		pollInterval:   poll.Interval,
		batchSize:      poll.BatchSize,
		processTimeout: 3 * time.Minute, // OCR plus one LLM call per line
		staleAfter:     10 * time.Minute,
		queue:          queue,
		receipts:       receipts,
		store:          store,
		engine:         engine,
		dispatcher:     dispatcher,
		categorizer:    categorizer,
		vendors:        vendors,
		images:         images,
		logger:         logger,
		lastPolled:     time.Now(),
	}
}

// Name identifies the worker to the manager
func (p *ReceiptProcessor) Name() string { return "receipt-processor" }

// Start begins the polling loop
func (p *ReceiptProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.isRunning = true
	p.mu.Unlock()

	p.logger.Info("ReceiptProcessor started",
		zap.Duration("poll_interval", p.pollInterval))

	go p.pollLoop()
	return nil
}

// Stop gracefully terminates the processor
func (p *ReceiptProcessor) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	p.logger.Info("ReceiptProcessor stopped",
		zap.Int("processed_count", p.processedCount),
		zap.Int("failed_count", p.failedCount))
}

// GetStatus returns current processor state
func (p *ReceiptProcessor) GetStatus() ReceiptProcessorStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ReceiptProcessorStatus{
		IsRunning:      p.isRunning,
		LastPolled:     p.lastPolled,
		ProcessedCount: p.processedCount,
		FailedCount:    p.failedCount,
		IsHealthy:      p.isRunning && time.Since(p.lastPolled) < 5*time.Minute,
		LastError:      p.lastError,
	}
}

func (p *ReceiptProcessor) pollLoop() {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Poll loop context cancelled")
			return

		case <-ticker.C:
			if _, err := p.queue.ReapStale(p.ctx, p.staleAfter); err != nil {
				p.logger.Warn("Failed to reap stale tasks", zap.Error(err))
			}

			if err := p.drainQueue(); err != nil {
				p.mu.Lock()
				p.lastError = err
				p.mu.Unlock()
				p.logger.Error("Queue drain failed", zap.Error(err))
			}

			p.mu.Lock()
			p.lastPolled = time.Now()
			p.mu.Unlock()
		}
	}
}

// drainQueue claims and runs tasks until the queue is empty, or until
// the batch size for this tick is spent
func (p *ReceiptProcessor) drainQueue() error {
	for done := 0; p.batchSize <= 0 || done < p.batchSize; done++ {
		select {
		case <-p.ctx.Done():
			return nil
		default:
		}

		task, err := p.queue.Claim(p.ctx, []string{TaskTypeProcessReceipt})
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		if task == nil {
			return nil
		}

		p.runTask(task)
	}
	return nil
}

// runTask executes one claimed task end to end, acking only on success
func (p *ReceiptProcessor) runTask(task *repository.Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.processTimeout)
	defer cancel()

	var payload ReceiptTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		// a malformed payload never gets better; kill it directly
		p.failTask(ctx, task, payload, fmt.Errorf("failed to decode task payload: %w", err))
		return
	}

	err := p.process(ctx, payload)
	if err == nil {
		if err := p.queue.Ack(ctx, task.ID); err != nil {
			p.logger.Error("Failed to ack task", zap.Error(err))
		}
		p.mu.Lock()
		p.processedCount++
		p.mu.Unlock()
		return
	}

	p.failTask(ctx, task, payload, err)
}

func (p *ReceiptProcessor) failTask(ctx context.Context, task *repository.Task, payload ReceiptTask, handlerErr error) {
	p.mu.Lock()
	p.failedCount++
	p.lastError = handlerErr
	p.mu.Unlock()

	dead, err := p.queue.Nack(ctx, task, handlerErr)
	if err != nil {
		p.logger.Error("Failed to nack task", zap.Error(err))
		return
	}
	if dead && payload.ReceiptID != uuid.Nil {
		if err := p.receipts.UpdateStatus(ctx, payload.Entity, payload.ReceiptID,
			models.StatusFailed, handlerErr.Error()); err != nil {
			p.logger.Error("Failed to mark receipt failed", zap.Error(err))
		}
	}
}

// process runs the whole pipeline for one receipt
func (p *ReceiptProcessor) process(ctx context.Context, payload ReceiptTask) error {
	logger := p.logger.With(
		zap.String("receipt_id", payload.ReceiptID.String()),
		zap.String("entity", string(payload.Entity)))

	if err := p.receipts.UpdateStatus(ctx, payload.Entity, payload.ReceiptID,
		models.StatusProcessing, ""); err != nil {
		return err
	}

	data, err := p.store.Get(ctx, payload.FileKey)
	if err != nil {
		return fmt.Errorf("failed to fetch original file: %w", err)
	}

	// the OCR engine works on paths: go-fitz and tesseract both want files
	tmp, err := p.writeTemp(data, payload.Ext)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	ocrResult, err := p.engine.Extract(ctx, tmp)
	if err != nil {
		return fmt.Errorf("ocr failed: %w", err)
	}
	logger.Info("OCR complete",
		zap.String("method", ocrResult.Method),
		zap.Float64("confidence", ocrResult.Confidence))

	parsed, err := p.dispatcher.Dispatch(ocrResult.Text, payload.Entity)
	if err != nil {
		return fmt.Errorf("parsing failed: %w", err)
	}
	p.resolveVendor(ctx, payload.Entity, parsed, logger)

	p.categorizeLines(ctx, parsed, logger)
	ocr.AssignBoundingBoxes(parsed.Lines, ocrResult.Lines)

	if err := p.receipts.SaveParseResult(ctx, payload.Entity, payload.ReceiptID,
		parsed, ocrResult.Method, ocrResult.Confidence); err != nil {
		return err
	}

	if err := p.relocateOriginal(ctx, payload, parsed, data, logger); err != nil {
		// the receipt stays servable at the intake path
		logger.Warn("Failed to relocate original file", zap.Error(err))
	}

	if err := p.storeDerivatives(ctx, payload, parsed, data, logger); err != nil {
		// derivatives are a convenience; the parsed data already
		// committed
		logger.Warn("Failed to store derivative images", zap.Error(err))
	}

	status := models.StatusApproved
	if needsReview(parsed) {
		status = models.StatusReview
	}
	if err := p.receipts.UpdateStatus(ctx, payload.Entity, payload.ReceiptID, status, ""); err != nil {
		return err
	}

	logger.Info("Receipt processed",
		zap.String("vendor", parsed.VendorGuess),
		zap.String("parser", parsed.ParserName),
		zap.String("status", string(status)),
		zap.Int("lines", len(parsed.Lines)))
	return nil
}

// resolveVendor swaps the parser's vendor guess for the registry's
// canonical name when one matches. Payment terms come along when the
// parser didn't find any on the document. A vendor that usually bills
// the other entity gets flagged for review, not blocked: Costco runs
// show up on both sets of books.
func (p *ReceiptProcessor) resolveVendor(ctx context.Context, entity models.Entity, parsed *models.NormalizedReceipt, logger *zap.Logger) {
	if p.vendors == nil || parsed.VendorGuess == "" {
		return
	}
	vendor, err := p.vendors.Resolve(ctx, parsed.VendorGuess)
	if err != nil {
		logger.Warn("Vendor resolution failed", zap.Error(err))
		return
	}
	if vendor == nil {
		return
	}
	logger.Debug("Vendor resolved",
		zap.String("guess", parsed.VendorGuess),
		zap.String("canonical", vendor.CanonicalName))
	parsed.VendorGuess = vendor.CanonicalName
	if parsed.PaymentTerms == "" {
		parsed.PaymentTerms = vendor.PaymentTerms
	}

	if vendor.DefaultEntity.Valid() && vendor.DefaultEntity != entity {
		logger.Info("Vendor usually bills the other entity",
			zap.String("vendor", vendor.CanonicalName),
			zap.String("expected_entity", string(vendor.DefaultEntity)))
		parsed.Warnings = append(parsed.Warnings, models.ValidationWarning{
			Type: "entity_mismatch",
			Message: fmt.Sprintf("%s usually bills %s but this receipt was uploaded to %s",
				vendor.CanonicalName, vendor.DefaultEntity, entity),
			Data: map[string]interface{}{
				"vendor":          vendor.CanonicalName,
				"expected_entity": string(vendor.DefaultEntity),
				"actual_entity":   string(entity),
			},
		})
	}
}

// categorizeLines resolves every item line to a GL account. A single
// line failing categorization does not fail the receipt; the line just
// goes to review.
func (p *ReceiptProcessor) categorizeLines(ctx context.Context, parsed *models.NormalizedReceipt, logger *zap.Logger) {
	for i := range parsed.Lines {
		line := &parsed.Lines[i]
		if line.LineType != models.LineItem {
			continue
		}

		result, err := p.categorizer.CategorizeLine(ctx,
			parsed.VendorGuess, line.VendorSKU, line.ItemDescription, line.LineTotal)
		if err != nil {
			logger.Warn("Categorization failed, sending line to review",
				zap.Int("line_index", i),
				zap.Error(err))
			line.NeedsReview = true
			continue
		}

		line.ItemDescription = result.NormalizedDescription
		line.ProductCategory = string(result.Category)
		line.AccountCode = result.AccountCode
		line.CategorizationSource = result.Source
		line.Confidence = result.Confidence
		line.NeedsReview = line.NeedsReview || result.RequiresReview
		line.AICost = result.AICost
	}
}

// relocateOriginal moves the original file from its intake key to the
// receipt's final prefix and records the new path on the receipt row
func (p *ReceiptProcessor) relocateOriginal(ctx context.Context, payload ReceiptTask, parsed *models.NormalizedReceipt, original []byte, logger *zap.Logger) error {
	if parsed.PurchaseDate.IsZero() {
		return nil // no date means no stable prefix yet; review fills it in
	}

	prefix := storage.ReceiptPrefix(payload.Entity, parsed.VendorGuess,
		parsed.PurchaseDate, parsed.Total)
	key := storage.OriginalKey(prefix, payload.Ext)
	if key == payload.FileKey {
		return nil
	}

	if err := p.store.Put(ctx, key, original, contentTypeFor(payload.Ext)); err != nil {
		return fmt.Errorf("failed to copy original to final path: %w", err)
	}
	if err := p.receipts.UpdateFilePath(ctx, payload.Entity, payload.ReceiptID, key); err != nil {
		return fmt.Errorf("failed to record final file path: %w", err)
	}
	if err := p.store.Delete(ctx, payload.FileKey); err != nil {
		// the copy already landed; a leftover intake file is harmless
		logger.Warn("Failed to delete intake file", zap.Error(err))
	}

	logger.Debug("Original relocated", zap.String("key", key))
	return nil
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		return "application/pdf"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "heic":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// storeDerivatives writes the normalized and thumbnail JPEGs next to the
// original under the receipt's final prefix
func (p *ReceiptProcessor) storeDerivatives(ctx context.Context, payload ReceiptTask, parsed *models.NormalizedReceipt, original []byte, logger *zap.Logger) error {
	ext := strings.ToLower(strings.TrimPrefix(payload.Ext, "."))
	if ext == "pdf" {
		return nil // the review UI renders PDFs directly
	}

	img, err := ocr.DecodeImage(bytes.NewReader(original))
	if err != nil {
		return fmt.Errorf("failed to decode original image: %w", err)
	}

	prefix := storage.ReceiptPrefix(payload.Entity, parsed.VendorGuess,
		parsed.PurchaseDate, parsed.Total)

	normalized, err := ocr.Normalize(img, p.images.NormalizedMaxPixels, p.images.NormalizedQuality)
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, storage.NormalizedKey(prefix), normalized, "image/jpeg"); err != nil {
		return err
	}

	thumb, err := ocr.Thumbnail(img, p.images.ThumbnailSize, p.images.ThumbnailQuality)
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, storage.ThumbnailKey(prefix), thumb, "image/jpeg"); err != nil {
		return err
	}

	logger.Debug("Derivative images stored", zap.String("prefix", prefix))
	return nil
}

func (p *ReceiptProcessor) writeTemp(data []byte, ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	f, err := os.CreateTemp("", "receipt-*."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

func needsReview(parsed *models.NormalizedReceipt) bool {
	if len(parsed.Warnings) > 0 || len(parsed.ParseErrors) > 0 {
		return true
	}
	for _, line := range parsed.Lines {
		if line.NeedsReview {
			return true
		}
	}
	return false
}
