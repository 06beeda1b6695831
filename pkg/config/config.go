// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Source kinds
const (
	SourceSheets    = "sheets"
	SourceXLSX      = "xlsx"
	SourcePostgres  = "postgres"
	SourceSnowflake = "snowflake"
)

// MissingEnvError lists every required environment variable that was not set
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

// ERPConfig holds the system-of-record connection parameters
type ERPConfig struct {
	URL       string
	APIKey    string
	APISecret string

	RequestTimeout time.Duration
	RetryAttempts  int
	RetryBase      time.Duration
	RetryStatuses  []int
	CallDelay      time.Duration
	PageSize       int
}

// SheetsConfig holds the Google Sheets source parameters
type SheetsConfig struct {
	Credentials   string // path to a service account JSON file, or the JSON itself
	SpreadsheetID string
}

// Config represents the application configuration
type Config struct {
	ERP    *ERPConfig
	Sheets *SheetsConfig

	// Source selection
	SourceKind      string
	XLSXPath        string
	SQLSourceSchema string

	// Database connections, only loaded when a SQL source or the ledger needs them
	Snowflake *SnowflakeConfig
	Postgres  *PostgresConfig

	// Run settings
	BatchSize       int
	BatchPause      time.Duration
	CompanyAbbr     string
	ReportDir       string
	ReportMaxErrors int
	DatasetsFile    string
	LedgerEnabled   bool

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvFile loads variables from a dotenv file without overriding the
// process environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables. Every missing
// required variable is reported in a single *MissingEnvError.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ERP: &ERPConfig{
			URL:            strings.TrimRight(os.Getenv("ERPNEXT_URL"), "/"),
			APIKey:         os.Getenv("ERPNEXT_API_KEY"),
			APISecret:      os.Getenv("ERPNEXT_API_SECRET"),
			RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
			RetryAttempts:  getEnvAsInt("RETRY_ATTEMPTS", 3),
			RetryBase:      time.Duration(getEnvAsInt("RETRY_BASE_MS", 1000)) * time.Millisecond,
			RetryStatuses:  getEnvAsIntSlice("RETRY_STATUSES", []int{429, 500, 502, 503, 504}),
			CallDelay:      time.Duration(getEnvAsInt("CALL_DELAY_MS", 0)) * time.Millisecond,
			PageSize:       getEnvAsInt("PAGE_SIZE", 500),
		},
		Sheets: &SheetsConfig{
			Credentials:   os.Getenv("GOOGLE_SHEETS_CREDS"),
			SpreadsheetID: os.Getenv("SPREADSHEET_ID"),
		},
		SourceKind:      strings.ToLower(getEnv("SOURCE_KIND", SourceSheets)),
		XLSXPath:        os.Getenv("XLSX_PATH"),
		SQLSourceSchema: getEnv("SQL_SOURCE_SCHEMA", "public"),
		BatchSize:       getEnvAsInt("BATCH_SIZE", 50),
		BatchPause:      time.Duration(getEnvAsInt("BATCH_PAUSE_MS", 1000)) * time.Millisecond,
		CompanyAbbr:     getEnv("COMPANY_ABBR", "SBS"),
		ReportDir:       getEnv("REPORT_DIR", os.TempDir()),
		ReportMaxErrors: getEnvAsInt("REPORT_MAX_ERRORS", 50),
		DatasetsFile:    os.Getenv("DATASETS_FILE"),
		LedgerEnabled:   getEnvAsBool("LEDGER_ENABLED", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),
	}

	var missing []string
	requireEnv(&missing, "ERPNEXT_URL", "ERPNEXT_API_KEY", "ERPNEXT_API_SECRET")

	switch cfg.SourceKind {
	case SourceSheets:
		requireEnv(&missing, "GOOGLE_SHEETS_CREDS", "SPREADSHEET_ID")
	case SourceXLSX:
		requireEnv(&missing, "XLSX_PATH")
	case SourceSnowflake:
		missing = append(missing, missingSnowflakeEnv()...)
	case SourcePostgres:
		missing = append(missing, missingPostgresEnv()...)
	}
	if cfg.LedgerEnabled && cfg.SourceKind != SourcePostgres {
		missing = append(missing, missingPostgresEnv()...)
	}

	if len(missing) > 0 {
		return nil, &MissingEnvError{Vars: missing}
	}

	if cfg.SourceKind == SourceSnowflake {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, errors.New("failed to load Snowflake configuration: " + err.Error())
		}
		cfg.Snowflake = snowConfig
	}

	if cfg.SourceKind == SourcePostgres || cfg.LedgerEnabled {
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, errors.New("failed to load PostgreSQL configuration: " + err.Error())
		}
		cfg.Postgres = pgConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.ERP == nil {
		return errors.New("ERP configuration is required")
	}

	if !strings.HasPrefix(c.ERP.URL, "http://") && !strings.HasPrefix(c.ERP.URL, "https://") {
		return fmt.Errorf("ERPNEXT_URL must be an http(s) URL, got %q", c.ERP.URL)
	}

	switch c.SourceKind {
	case SourceSheets, SourceXLSX, SourcePostgres, SourceSnowflake:
	default:
		return fmt.Errorf("unknown SOURCE_KIND %q", c.SourceKind)
	}

	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	if c.ERP.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	if c.ERP.PageSize <= 0 {
		return errors.New("page size must be positive")
	}

	if c.ERP.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	return nil
}

func requireEnv(missing *[]string, keys ...string) {
	for _, key := range keys {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			*missing = append(*missing, key)
		}
	}
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntSlice(key string, defaultValue []int) []int {
	parts := getEnvAsStringSlice(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}

	result := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		result = append(result, v)
	}
	return result
}
