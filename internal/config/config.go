package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      string
	LogLevel  string
	JWTSecret string

	ExpensesAPIEndpoint string
	ExpensesAPITimeout  time.Duration

	// Blob storage
	BlobBackend    string
	DBConn         string
	RedisAddr      string
	RedisPassword  string
	ModelsBucket   string
	ModelNamespace string
	ModelPrefix    string
	ModelExt       string

	DefaultCurrency     string
	CacheReloadSchedule string

	// SMTP, notifications are disabled when SMTPHost is empty
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	Model ModelConfig
}

// ModelConfig holds the forecasting hyperparameters
type ModelConfig struct {
	// WindowSize is the number of past smoothed salaries fed to the model.
	// Training needs WindowSize+1 salaries, forecasting needs WindowSize.
	WindowSize int
	// ValidationSize is the number of most recent examples held out for the
	// R2 score. Training needs at least ValidationSize+1 examples.
	ValidationSize int
	// SmoothingLevel is the exponential smoothing weight on the newest
	// salary. Lower values give a steadier series.
	SmoothingLevel float64
	Epochs         int
	HiddenUnits    int
	LearningRate   float64
	BatchSize      int
	// Seed drives weight initialization and shuffling.
	Seed int64
	// SalaryCutoff is a YYYYMMDD date; salaries on or before it are ignored.
	SalaryCutoff string
}

// DefaultModelConfig returns the hyperparameters the service ships with
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		WindowSize:     5,
		ValidationSize: 20,
		SmoothingLevel: 0.05,
		Epochs:         300,
		HiddenUnits:    40,
		LearningRate:   0.001,
		BatchSize:      32,
		Seed:           42,
		SalaryCutoff:   "20181208",
	}
}

// NewConfig loads configuration from environment variables, reading a .env
// file first when one exists
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	defaults := DefaultModelConfig()
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		ExpensesAPIEndpoint: getEnv("EXPENSES_API_ENDPOINT", ""),
		ExpensesAPITimeout:  getEnvDuration("EXPENSES_API_TIMEOUT", 10*time.Second),
		BlobBackend:         getEnv("BLOB_BACKEND", "postgres"),
		DBConn:              getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=incast sslmode=disable"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		ModelsBucket:        getEnv("MODELS_BUCKET", "incast-models"),
		ModelNamespace:      getEnv("MODEL_NAMESPACE", "incast"),
		ModelPrefix:         getEnv("MODEL_PREFIX", "incast"),
		ModelExt:            getEnv("MODEL_EXT", "json"),
		DefaultCurrency:     getEnv("DEFAULT_CURRENCY", "EUR"),
		CacheReloadSchedule: getEnv("CACHE_RELOAD_SCHEDULE", ""),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SenderEmail:         getEnv("SENDER_EMAIL", "incast@localhost"),
		Model: ModelConfig{
			WindowSize:     getEnvInt("WINDOW_SIZE", defaults.WindowSize),
			ValidationSize: getEnvInt("VALIDATION_SIZE", defaults.ValidationSize),
			SmoothingLevel: getEnvFloat("SMOOTHING_LEVEL", defaults.SmoothingLevel),
			Epochs:         getEnvInt("EPOCHS", defaults.Epochs),
			HiddenUnits:    getEnvInt("HIDDEN_UNITS", defaults.HiddenUnits),
			LearningRate:   getEnvFloat("LEARNING_RATE", defaults.LearningRate),
			BatchSize:      getEnvInt("BATCH_SIZE", defaults.BatchSize),
			Seed:           int64(getEnvInt("SEED", int(defaults.Seed))),
			SalaryCutoff:   getEnv("SALARY_CUTOFF", defaults.SalaryCutoff),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ExpensesAPIEndpoint == "" {
		return nil, fmt.Errorf("EXPENSES_API_ENDPOINT is required")
	}
	switch cfg.BlobBackend {
	case "postgres":
		if cfg.DBConn == "" {
			return nil, fmt.Errorf("DB_CONN is required for the postgres blob backend")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis blob backend")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the hyperparameters describe a trainable model
func (m ModelConfig) Validate() error {
	if m.WindowSize < 1 {
		return fmt.Errorf("WINDOW_SIZE must be positive, got %d", m.WindowSize)
	}
	if m.ValidationSize < 1 {
		return fmt.Errorf("VALIDATION_SIZE must be positive, got %d", m.ValidationSize)
	}
	if m.SmoothingLevel <= 0 || m.SmoothingLevel >= 1 {
		return fmt.Errorf("SMOOTHING_LEVEL must be in (0,1), got %v", m.SmoothingLevel)
	}
	if m.Epochs < 1 {
		return fmt.Errorf("EPOCHS must be positive, got %d", m.Epochs)
	}
	if m.HiddenUnits < 1 {
		return fmt.Errorf("HIDDEN_UNITS must be positive, got %d", m.HiddenUnits)
	}
	if m.LearningRate <= 0 {
		return fmt.Errorf("LEARNING_RATE must be positive, got %v", m.LearningRate)
	}
	if m.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", m.BatchSize)
	}
	if _, err := time.Parse("20060102", m.SalaryCutoff); err != nil {
		return fmt.Errorf("SALARY_CUTOFF must be YYYYMMDD: %w", err)
	}
	return nil
}

// NotificationsEnabled reports whether SMTP is configured
func (c *Config) NotificationsEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultVal
	}
	return d
}
