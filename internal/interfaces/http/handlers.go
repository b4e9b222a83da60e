package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/curlys/curlys-books/internal/models"
	"github.com/curlys/curlys-books/internal/ocr"
	"github.com/curlys/curlys-books/internal/repository"
	"github.com/curlys/curlys-books/internal/review"
	"github.com/curlys/curlys-books/internal/storage"
	"github.com/curlys/curlys-books/internal/worker"
)

// uploads past this size are almost certainly not receipts
const maxUploadBytes = 25 << 20

var allowedExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true,
	".heic": true, ".tif": true, ".tiff": true, ".bmp": true,
}

var contentTypes = map[string]string{
	".pdf": "application/pdf", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".png": "image/png", ".heic": "image/heic", ".tif": "image/tiff",
	".tiff": "image/tiff", ".bmp": "image/bmp",
}

// ReceiptStore is the slice of the receipt repository the API needs
type ReceiptStore interface {
	Create(ctx context.Context, receipt *models.Receipt) error
	FindByContentHash(ctx context.Context, entity models.Entity, hash string) (*models.Receipt, error)
	GetByID(ctx context.Context, id uuid.UUID, entity models.Entity) (*models.Receipt, error)
	List(ctx context.Context, filter repository.ListFilter) ([]models.Receipt, error)
	GetLines(ctx context.Context, entity models.Entity, receiptID uuid.UUID) ([]models.ReceiptLine, error)
	ListLinesForExport(ctx context.Context, from, to time.Time) ([]repository.ExportRow, error)
}

// TaskQueue enqueues pipeline work
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) (uuid.UUID, error)
}

// ReviewService is the slice of the review service the API needs
type ReviewService interface {
	Pending(ctx context.Context, filter repository.PendingFilter) ([]models.Reviewable, error)
	Get(ctx context.Context, id string) (*models.Reviewable, error)
	Metrics(ctx context.Context) (*models.ReviewMetrics, error)
	Act(ctx context.Context, id string, req models.ReviewRequest) error
	ActBatch(ctx context.Context, ids []string, req models.ReviewRequest) []review.BatchResult
}

// Exporter renders line items into a workbook
type Exporter interface {
	Render(rows []repository.ExportRow) ([]byte, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	receipts ReceiptStore
	files    storage.Store
	queue    TaskQueue
	review   ReviewService
	exporter Exporter
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(receipts ReceiptStore, files storage.Store, queue TaskQueue, reviews ReviewService, exporter Exporter, logger Logger) *Handlers {
	return &Handlers{
		receipts: receipts,
		files:    files,
		queue:    queue,
		review:   reviews,
		exporter: exporter,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// UploadResponse is the 202 body for an accepted upload
type UploadResponse struct {
	ReceiptID string `json:"receipt_id"`
	TaskID    string `json:"task_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// UploadReceipt handles POST /api/receipts/upload
func (h *Handlers) UploadReceipt(c *gin.Context) {
	entity, err := models.ParseEntity(c.PostForm("entity"))
	if err != nil {
		badRequest(c, "entity must be corp or soleprop")
		return
	}

	source := models.ReceiptSource(c.DefaultPostForm("source", string(models.SourcePWA)))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Error: "file too large"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		badRequest(c, fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.serverError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		h.serverError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// the same photo uploaded twice books nothing twice
	existing, err := h.receipts.FindByContentHash(c.Request.Context(), entity, hash)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, Response{
			Success: true,
			Data:    UploadResponse{ReceiptID: existing.ID.String(), Duplicate: true},
		})
		return
	}

	fileKey := storage.IntakeKey(entity, hash, ext)
	if err := h.files.Put(c.Request.Context(), fileKey, data, contentTypes[ext]); err != nil {
		h.serverError(c, err)
		return
	}

	receipt := &models.Receipt{
		Entity:           entity,
		Source:           source,
		Status:           models.StatusPending,
		ContentHash:      hash,
		OriginalFilePath: fileKey,
		Currency:         "CAD",
	}
	if err := h.receipts.Create(c.Request.Context(), receipt); err != nil {
		h.serverError(c, err)
		return
	}

	taskID, err := h.queue.Enqueue(c.Request.Context(), worker.TaskTypeProcessReceipt, worker.ReceiptTask{
		ReceiptID: receipt.ID,
		Entity:    entity,
		FileKey:   fileKey,
		Ext:       ext,
	})
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data:    UploadResponse{ReceiptID: receipt.ID.String(), TaskID: taskID.String()},
	})
}

// GetReceipt handles GET /api/receipts/:id
func (h *Handlers) GetReceipt(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid receipt id")
		return
	}
	entity := models.Entity(c.Query("entity")) // optional, searches both when absent

	receipt, err := h.receipts.GetByID(c.Request.Context(), id, entity)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "receipt not found")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}

	lines, err := h.receipts.GetLines(c.Request.Context(), receipt.Entity, receipt.ID)
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"receipt": receipt, "lines": lines},
	})
}

// ListReceipts handles GET /api/receipts
func (h *Handlers) ListReceipts(c *gin.Context) {
	entity, err := models.ParseEntity(c.Query("entity"))
	if err != nil {
		badRequest(c, "entity must be corp or soleprop")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	receipts, err := h.receipts.List(c.Request.Context(), repository.ListFilter{
		Entity: entity,
		Status: models.ReceiptStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: receipts})
}

// GetReceiptFile handles GET /api/receipts/:id/file?type=...
func (h *Handlers) GetReceiptFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid receipt id")
		return
	}

	receipt, err := h.receipts.GetByID(c.Request.Context(), id, models.Entity(c.Query("entity")))
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "receipt not found")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}

	fileType := c.DefaultQuery("type", "original")
	switch fileType {
	case "original":
		h.serveObject(c, receipt.OriginalFilePath, contentTypes[strings.ToLower(filepath.Ext(receipt.OriginalFilePath))])

	case "normalized", "thumbnail":
		prefix, ok := h.receiptPrefix(receipt)
		if !ok {
			notFound(c, "receipt not parsed yet")
			return
		}
		key := storage.NormalizedKey(prefix)
		if fileType == "thumbnail" {
			key = storage.ThumbnailKey(prefix)
		}
		h.serveObject(c, key, "image/jpeg")

	case "cropped":
		h.serveCropped(c, receipt)

	default:
		badRequest(c, "type must be original, normalized, thumbnail or cropped")
	}
}

// serveCropped returns the line-region crop, computing and caching it on
// first request
func (h *Handlers) serveCropped(c *gin.Context, receipt *models.Receipt) {
	prefix, ok := h.receiptPrefix(receipt)
	if !ok {
		notFound(c, "receipt not parsed yet")
		return
	}
	key := storage.CroppedKey(prefix)

	exists, err := h.files.Exists(c.Request.Context(), key)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if exists {
		h.serveObject(c, key, "image/jpeg")
		return
	}

	ext := strings.ToLower(filepath.Ext(receipt.OriginalFilePath))
	if ext == ".pdf" {
		notFound(c, "crops are only available for image receipts")
		return
	}

	lines, err := h.receipts.GetLines(c.Request.Context(), receipt.Entity, receipt.ID)
	if err != nil {
		h.serverError(c, err)
		return
	}
	var boxes []models.BoundingBox
	for _, line := range lines {
		if line.BoundingBox != nil {
			boxes = append(boxes, *line.BoundingBox)
		}
	}
	if len(boxes) == 0 {
		notFound(c, "no line positions detected for this receipt")
		return
	}

	original, err := h.files.Get(c.Request.Context(), receipt.OriginalFilePath)
	if err != nil {
		h.serverError(c, err)
		return
	}
	img, err := ocr.DecodeImage(bytes.NewReader(original))
	if err != nil {
		h.serverError(c, fmt.Errorf("failed to decode original: %w", err))
		return
	}

	cropped, err := ocr.CropLineRegion(img, boxes, 90)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if err := h.files.Put(c.Request.Context(), key, cropped, "image/jpeg"); err != nil {
		h.logger.Warn("Failed to cache cropped image", "error", err.Error())
	}

	c.Data(http.StatusOK, "image/jpeg", cropped)
}

func (h *Handlers) receiptPrefix(receipt *models.Receipt) (string, bool) {
	if receipt.PurchaseDate == nil || receipt.VendorGuess == "" {
		return "", false
	}
	return storage.ReceiptPrefix(receipt.Entity, receipt.VendorGuess,
		*receipt.PurchaseDate, receipt.Total), true
}

func (h *Handlers) serveObject(c *gin.Context, key, contentType string) {
	data, err := h.files.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		notFound(c, "file not found")
		return
	}
	if err != nil {
		h.serverError(c, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

// ListPendingReviews handles GET /api/review/pending
func (h *Handlers) ListPendingReviews(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	maxConf, _ := strconv.ParseFloat(c.DefaultQuery("max_confidence", "0"), 64)

	items, err := h.review.Pending(c.Request.Context(), repository.PendingFilter{
		Entity:        models.Entity(c.Query("entity")),
		MaxConfidence: maxConf,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.serverError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// ReviewMetrics handles GET /api/review/metrics
func (h *Handlers) ReviewMetrics(c *gin.Context) {
	metrics, err := h.review.Metrics(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: metrics})
}

// ReviewAction handles POST /api/review/:id/action
func (h *Handlers) ReviewAction(c *gin.Context) {
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	err := h.review.Act(c.Request.Context(), c.Param("id"), req)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "reviewable not found")
		return
	}
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// BatchReviewRequest is the body for POST /api/review/batch
type BatchReviewRequest struct {
	IDs     []string             `json:"ids" binding:"required"`
	Request models.ReviewRequest `json:"request" binding:"required"`
}

// BatchReviewAction handles POST /api/review/batch
func (h *Handlers) BatchReviewAction(c *gin.Context) {
	var req BatchReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	results := h.review.ActBatch(c.Request.Context(), req.IDs, req.Request)
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// ExportLineItems handles GET /api/export/line-items.xlsx
func (h *Handlers) ExportLineItems(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		badRequest(c, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		badRequest(c, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		badRequest(c, "to must not precede from")
		return
	}

	rows, err := h.receipts.ListLinesForExport(c.Request.Context(), from, to)
	if err != nil {
		h.serverError(c, err)
		return
	}

	workbook, err := h.exporter.Render(rows)
	if err != nil {
		h.serverError(c, err)
		return
	}

	filename := fmt.Sprintf("line-items_%s_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", workbook)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Success: false, Error: msg})
}

func (h *Handlers) serverError(c *gin.Context, err error) {
	h.logger.Error("Request failed", "error", err.Error(), "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
}
