package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/categorization"
	"github.com/curlys/curlys-books/internal/config"
	"github.com/curlys/curlys-books/internal/export"
	httpiface "github.com/curlys/curlys-books/internal/interfaces/http"
	"github.com/curlys/curlys-books/internal/ocr"
	"github.com/curlys/curlys-books/internal/parser"
	"github.com/curlys/curlys-books/internal/repository"
	"github.com/curlys/curlys-books/internal/review"
	"github.com/curlys/curlys-books/internal/storage"
	"github.com/curlys/curlys-books/internal/worker"
	"github.com/curlys/curlys-books/pkg/database"
	"github.com/curlys/curlys-books/pkg/utils"
)

func main() {
	// .env carries local credentials; absence is fine in production
	_ = gotenv.Load()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Curly's Books",
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Name:            cfg.Database.Name,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	store, err := newObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to initialize object storage", zap.Error(err))
	}

	// Repositories
	receiptRepo := repository.NewReceiptRepository(db, logger)
	productCache := repository.NewProductCache(db, logger)
	reviewRepo := repository.NewReviewRepository(db, logger)
	vendorRegistry := repository.NewVendorRegistry(db, logger)
	workQueue := repository.NewWorkQueue(db, cfg.Worker.MaxAttempts, cfg.Worker.BackoffBase, logger)

	// OCR engine: go-fitz for PDFs, tesseract locally, Textract in the
	// cloud when enabled
	var cloud ocr.CloudProvider
	if cfg.OCR.TextractEnabled {
		textract, err := ocr.NewTextract(ctx, cfg.OCR.TextractRegion, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Textract", zap.Error(err))
		}
		cloud = textract
	}
	engine := ocr.NewEngine(cfg.OCR,
		ocr.NewFitzConverter(),
		ocr.NewTesseract(cfg.OCR.TesseractLanguage, logger),
		cloud,
		logger)

	// Parsing and categorization
	hstRate := decimal.NewFromFloat(cfg.Tax.HSTRate)
	dispatcher := parser.NewDispatcher(hstRate, logger)

	recognizer, closeRecognizer, err := newRecognizer(ctx, cfg.Categorization, logger)
	if err != nil {
		logger.Fatal("Failed to initialize recognizer", zap.Error(err))
	}
	defer closeRecognizer()

	mapper := categorization.NewAccountMapper(
		decimal.NewFromInt(int64(cfg.Categorization.CapitalizationThreshold)), logger)
	categorizer := categorization.NewService(productCache, recognizer, mapper,
		cfg.Categorization.CacheMinConfidence, cfg.Categorization.Timeout, logger)

	// Review service
	reviewService := review.NewService(db, receiptRepo, reviewRepo, productCache, logger)

	// Pipeline worker
	processor := worker.NewReceiptProcessor(workQueue, receiptRepo, store,
		engine, dispatcher, categorizer, vendorRegistry,
		worker.PollConfig{
			Interval:  cfg.Worker.PollInterval,
			BatchSize: cfg.Worker.BatchSize,
		},
		worker.ImageConfig{
			NormalizedMaxPixels: cfg.OCR.NormalizedMaxPixels,
			NormalizedQuality:   cfg.OCR.NormalizedJPEGQual,
			ThumbnailSize:       200,
			ThumbnailQuality:    80,
		},
		logger)

	manager := worker.NewManager(logger)
	manager.Register(processor)
	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer manager.StopAll()

	// HTTP server
	handlers := httpiface.NewHandlers(receiptRepo, store, workQueue,
		reviewService, export.NewExcel(logger), logger.Sugar())
	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handlers, logger.Sugar())

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newObjectStore picks MinIO when an endpoint is configured, local
// filesystem otherwise
func newObjectStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	if cfg.Endpoint == "" {
		logger.Info("Using local filesystem storage", zap.String("root", cfg.LocalRoot))
		return storage.NewLocalStore(cfg.LocalRoot, logger)
	}
	return storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	}, logger)
}

// newRecognizer builds the configured LLM provider. The returned close
// function releases provider resources on shutdown.
func newRecognizer(ctx context.Context, cfg config.CategorizationConfig, logger *zap.Logger) (categorization.Recognizer, func(), error) {
	inputRate := decimal.NewFromFloat(cfg.InputCostPer1K)
	outputRate := decimal.NewFromFloat(cfg.OutputCostPer1K)

	switch cfg.Provider {
	case "gemini":
		r, err := categorization.NewGeminiRecognizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel,
			cfg.MaxTokens, inputRate, outputRate, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		r := categorization.NewOpenAIRecognizer(cfg.OpenAIAPIKey, cfg.OpenAIModel,
			cfg.MaxTokens, inputRate, outputRate, logger)
		return r, func() {}, nil
	}
}
