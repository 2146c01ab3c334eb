package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Store drivers.
const (
	DriverMongoDB = "mongodb"
	DriverMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	MongoDB    MongoDBConfig
	Redis      RedisConfig
	WhatsApp   WhatsAppConfig
	Sheets     SheetsConfig
	Reconcile  ReconcileConfig
	Scheduling SchedulingConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port           string
	MaxUploadBytes int64
}

// LogConfig selects the zap level.
type LogConfig struct {
	Level string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
}

// MongoDBConfig holds settings for MongoDB. Transactions must stay on; the
// flag exists so that a deployment that turns it off fails at startup.
type MongoDBConfig struct {
	URI          string
	DBName       string
	Transactions bool
}

// RedisConfig enables distributed receipt locks when Address is set.
type RedisConfig struct {
	Address string
	LockTTL time.Duration
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	NotifyTo      string
}

// Enabled reports whether notifications should be sent.
func (w WhatsAppConfig) Enabled() bool {
	return w.AccessToken != ""
}

// SheetsConfig contains configuration required to interact with Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
	UploadLogRange  string
}

// Enabled reports whether sheet ingestion is configured.
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsPath != "" || s.SpreadsheetID != ""
}

// ReconcileConfig tunes ingestion and matching.
type ReconcileConfig struct {
	ErrorSampleSize      int
	StockConflictRetries int
	DefaultFeeRate       decimal.Decimal
	RegistryCacheTTL     time.Duration
}

// SchedulingConfig holds cron expressions and their location.
type SchedulingConfig struct {
	RematchCron string
	ReportCron  string
	Timezone    string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	var errs []error
	intVar := func(key string, fallback int) int {
		v, err := getenvInt(key, fallback)
		errs = append(errs, err)
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getenvDuration(key, fallback)
		errs = append(errs, err)
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := getenvBool(key, fallback)
		errs = append(errs, err)
		return v
	}

	feeRate, err := decimal.NewFromString(getenvWithDefault("DEFAULT_FEE_RATE", "3.0"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_FEE_RATE: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getenvWithDefault("APP_PORT", "8080"),
			MaxUploadBytes: int64(intVar("MAX_UPLOAD_BYTES", 20<<20)),
		},
		Log: LogConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getenvWithDefault("STORE_DRIVER", DriverMongoDB)),
		},
		MongoDB: MongoDBConfig{
			URI:          getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
			DBName:       getenvWithDefault("MONGODB_DB_NAME", "pos_reconcile"),
			Transactions: boolVar("MONGODB_TRANSACTIONS", true),
		},
		Redis: RedisConfig{
			Address: os.Getenv("REDIS_ADDRESS"),
			LockTTL: durationVar("LOCK_TTL", 30*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BaseURL:       getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			NotifyTo:      os.Getenv("WHATSAPP_NOTIFY_TO"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
			UploadLogRange:  os.Getenv("GOOGLE_SHEET_UPLOAD_LOG_RANGE"),
		},
		Reconcile: ReconcileConfig{
			ErrorSampleSize:      intVar("ERROR_SAMPLE_SIZE", 5),
			StockConflictRetries: intVar("STOCK_CONFLICT_RETRIES", 3),
			DefaultFeeRate:       feeRate,
			RegistryCacheTTL:     durationVar("REGISTRY_CACHE_TTL", 10*time.Minute),
		},
		Scheduling: SchedulingConfig{
			RematchCron: getenvWithDefault("REMATCH_CRON", "*/30 * * * *"),
			ReportCron:  getenvWithDefault("REPORT_CRON", "0 20 * * *"),
			Timezone:    getenvWithDefault("TIMEZONE", "Asia/Seoul"),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongoDB:
		if c.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided")
		}
		if c.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must be provided")
		}
		if !c.MongoDB.Transactions {
			return errors.New("MONGODB_TRANSACTIONS cannot be disabled: each sales file is reconciled as one transaction")
		}
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.Store.Driver)
	}

	if c.Redis.Address != "" && c.Redis.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}

	if c.WhatsApp.Enabled() {
		switch {
		case c.WhatsApp.PhoneNumberID == "":
			return errors.New("WHATSAPP_PHONE_NUMBER_ID must be provided")
		case c.WhatsApp.NotifyTo == "":
			return errors.New("WHATSAPP_NOTIFY_TO must be provided")
		case c.WhatsApp.BaseURL == "":
			return errors.New("WHATSAPP_BASE_URL must not be empty")
		case c.WhatsApp.APIVersion == "":
			return errors.New("WHATSAPP_API_VERSION must not be empty")
		}
	}

	if c.Sheets.Enabled() {
		if c.Sheets.CredentialsPath == "" {
			return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH must be provided")
		}
		if c.Sheets.SpreadsheetID == "" {
			return errors.New("GOOGLE_SHEET_DATABASE_ID must be provided")
		}
	}

	if c.Reconcile.ErrorSampleSize < 0 {
		return errors.New("ERROR_SAMPLE_SIZE must not be negative")
	}
	if c.Reconcile.StockConflictRetries < 0 {
		return errors.New("STOCK_CONFLICT_RETRIES must not be negative")
	}
	if c.Reconcile.DefaultFeeRate.IsNegative() {
		return errors.New("DEFAULT_FEE_RATE must not be negative")
	}
	if c.Reconcile.RegistryCacheTTL <= 0 {
		return errors.New("REGISTRY_CACHE_TTL must be positive")
	}

	if c.Scheduling.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Scheduling.Timezone, err)
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
