package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"vatledger/internal/ledger"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend   string
	DataDirectory string

	// Webhook
	WebhookURL     string
	RequestTimeout time.Duration
	CacheTTL       time.Duration

	// Screen
	RecentLimit    int
	RecentDays     int
	FilterDays     int
	Timezone       string
	RollbackPolicy string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSpendingSheet      string
	GoogleVATSheet           string
	GoogleReceivingSheet     string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenJSON     string
	GoogleOAuthTokenFile     string

	// Logging
	LogLevel  string
	LogFormat string
}

var validBackends = []string{"webhook", "sheets", "memory"}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:   getEnv("DATA_BACKEND", "webhook"),
		DataDirectory: getEnv("DATA_DIRECTORY", "data"),

		WebhookURL:     strings.TrimSpace(os.Getenv("SHEET_WEBAPP_URL")),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),

		RecentLimit:    getEnvInt("RECENT_LIMIT", 50),
		RecentDays:     getEnvInt("RECENT_DAYS", 2),
		FilterDays:     getEnvInt("FILTER_DAYS", 7),
		Timezone:       getEnv("LEDGER_TIMEZONE", "Asia/Ho_Chi_Minh"),
		RollbackPolicy: getEnv("ROLLBACK_POLICY", string(ledger.RollbackCreatesOnly)),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "vatledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSpendingSheet:      getEnv("GOOGLE_SPENDING_SHEET", "Spending"),
		GoogleVATSheet:           getEnv("GOOGLE_VAT_SHEET", "VAT Collected"),
		GoogleReceivingSheet:     getEnv("GOOGLE_RECEIVING_SHEET", "Receiving"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientJSON:    getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenJSON:     getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", "token.json"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid.
// A missing webhook URL is not an error here: the client reports it as a
// configuration problem on every call so the screen can show it.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid SHEET_WEBAPP_URL '%s': must be an http(s) URL", c.WebhookURL))
		}
	}

	if c.RequestTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at least 1 second", c.RequestTimeout))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}

	if c.RecentLimit < 1 || c.RecentLimit > 1000 {
		errors = append(errors, fmt.Sprintf("invalid recent limit %d: must be between 1 and 1000", c.RecentLimit))
	}
	if c.RecentDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid recent days %d: must be at least 1", c.RecentDays))
	}
	if c.FilterDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid filter days %d: must be at least 1", c.FilterDays))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if _, err := ledger.ParseRollbackPolicy(c.RollbackPolicy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rollback policy '%s': must be 'creates' or 'all'", c.RollbackPolicy))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		hasServiceAccount := c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
		hasOAuth := c.GoogleOAuthClientJSON != "" || c.GoogleOAuthClientFile != ""
		if !hasServiceAccount && !hasOAuth {
			errors = append(errors, "GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or an OAuth client (GOOGLE_OAUTH_CLIENT_JSON, GOOGLE_OAUTH_CLIENT_FILE) must be provided for sheets backend")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location returns the zone "today" is computed in, UTC when Timezone does
// not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Rollback returns the parsed rollback policy, defaulting to creates only.
func (c *Config) Rollback() ledger.RollbackPolicy {
	p, err := ledger.ParseRollbackPolicy(c.RollbackPolicy)
	if err != nil {
		return ledger.RollbackCreatesOnly
	}
	return p
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
