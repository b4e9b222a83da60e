package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	OCR            OCRConfig            `mapstructure:"ocr"`
	Categorization CategorizationConfig `mapstructure:"categorization"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Tax            TaxConfig            `mapstructure:"tax"`
	Logger         LoggerConfig         `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds Postgres configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// StorageConfig holds object storage configuration.
// When Endpoint is empty the store falls back to the local filesystem
// under LocalRoot.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	LocalRoot string `mapstructure:"local_root"`
}

// OCRConfig holds OCR engine configuration
type OCRConfig struct {
	TesseractLanguage    string  `mapstructure:"tesseract_language"`
	TesseractMinConf     float64 `mapstructure:"tesseract_min_confidence"`
	TextractEnabled      bool    `mapstructure:"textract_enabled"`
	TextractRegion       string  `mapstructure:"textract_region"`
	RenderDPI            int     `mapstructure:"render_dpi"`
	PDFTextMinChars      int     `mapstructure:"pdf_text_min_chars"`
	PDFTextMinTokens     int     `mapstructure:"pdf_text_min_tokens"`
	NormalizedMaxPixels  int     `mapstructure:"normalized_max_pixels"`
	NormalizedJPEGQual   int     `mapstructure:"normalized_jpeg_quality"`
	TranscodeJPEGQuality int     `mapstructure:"transcode_jpeg_quality"`
}

// CategorizationConfig holds product categorization configuration
type CategorizationConfig struct {
	Provider                string        `mapstructure:"provider"` // openai or gemini
	OpenAIAPIKey            string        `mapstructure:"openai_api_key"`
	OpenAIModel             string        `mapstructure:"openai_model"`
	GeminiAPIKey            string        `mapstructure:"gemini_api_key"`
	GeminiModel             string        `mapstructure:"gemini_model"`
	MaxTokens               int           `mapstructure:"max_tokens"`
	InputCostPer1K          float64       `mapstructure:"input_cost_per_1k"`
	OutputCostPer1K         float64       `mapstructure:"output_cost_per_1k"`
	CacheMinConfidence      float64       `mapstructure:"cache_min_confidence"`
	CapitalizationThreshold int           `mapstructure:"capitalization_threshold"`
	Timeout                 time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
}

// TaxConfig holds sales tax configuration (Nova Scotia HST)
type TaxConfig struct {
	HSTRate float64 `mapstructure:"hst_rate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "curlys_admin")
	viper.SetDefault("database.name", "curlys_books")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("database.min_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// Storage defaults
	viper.SetDefault("storage.bucket", "curlys-receipts")
	viper.SetDefault("storage.local_root", "/srv/curlys-books/objects")

	// OCR defaults
	viper.SetDefault("ocr.tesseract_language", "eng")
	viper.SetDefault("ocr.tesseract_min_confidence", 0.96)
	viper.SetDefault("ocr.textract_enabled", true)
	viper.SetDefault("ocr.textract_region", "us-east-1")
	viper.SetDefault("ocr.render_dpi", 300)
	viper.SetDefault("ocr.pdf_text_min_chars", 50)
	viper.SetDefault("ocr.pdf_text_min_tokens", 10)
	viper.SetDefault("ocr.normalized_max_pixels", 800)
	viper.SetDefault("ocr.normalized_jpeg_quality", 90)
	viper.SetDefault("ocr.transcode_jpeg_quality", 95)

	// Categorization defaults
	viper.SetDefault("categorization.provider", "openai")
	viper.SetDefault("categorization.openai_model", "gpt-4o-mini")
	viper.SetDefault("categorization.gemini_model", "gemini-1.5-flash")
	viper.SetDefault("categorization.max_tokens", 1024)
	viper.SetDefault("categorization.input_cost_per_1k", 0.003)
	viper.SetDefault("categorization.output_cost_per_1k", 0.015)
	viper.SetDefault("categorization.cache_min_confidence", 0.9)
	viper.SetDefault("categorization.capitalization_threshold", 2500)
	viper.SetDefault("categorization.timeout", 60*time.Second)

	// Worker defaults
	viper.SetDefault("worker.poll_interval", 5*time.Second)
	viper.SetDefault("worker.batch_size", 5)
	viper.SetDefault("worker.max_attempts", 3)
	viper.SetDefault("worker.backoff_base", 30*time.Second)

	// Tax defaults
	viper.SetDefault("tax.hst_rate", 0.15)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	viper.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	viper.BindEnv("categorization.openai_api_key", "OPENAI_API_KEY")
	viper.BindEnv("categorization.gemini_api_key", "GEMINI_API_KEY")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("database.password is required")
	}

	switch c.Categorization.Provider {
	case "openai":
		if c.Categorization.OpenAIAPIKey == "" {
			return fmt.Errorf("categorization.openai_api_key is required")
		}
	case "gemini":
		if c.Categorization.GeminiAPIKey == "" {
			return fmt.Errorf("categorization.gemini_api_key is required")
		}
	default:
		return fmt.Errorf("categorization.provider must be openai or gemini, got %q", c.Categorization.Provider)
	}

	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("storage.access_key and storage.secret_key are required when an endpoint is set")
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1")
	}

	if c.Tax.HSTRate <= 0 || c.Tax.HSTRate >= 1 {
		return fmt.Errorf("tax.hst_rate must be a fraction between 0 and 1")
	}

	return nil
}
