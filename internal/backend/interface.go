package backend

import (
	"context"
	"time"

	"vatledger/internal/amqp"
	"vatledger/internal/cache"
	"vatledger/internal/sheets"
)

// Backend represents a unified backend interface that provides all necessary operations
type Backend interface {
	sheets.EntryWriter
	sheets.EntryDeleter
	sheets.StatusUpdater
	sheets.LedgerReader
	sheets.TotalsReader
	sheets.MonthlyReader
	sheets.VATLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	// Events is nil when no broker is configured.
	Events *amqp.Client
	// Caches lists the response caches the backend keeps, for periodic
	// cleanup.
	Caches  []cache.Cleaner
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Webhook specific
	WebhookURL     string
	RequestTimeout time.Duration
	CacheTTL       time.Duration

	// Google Sheets specific
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

	// Memory backend specific
	DataDirectory string

	// Optional event publishing
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	WebhookBackend BackendType = "webhook"
	SheetsBackend  BackendType = "sheets"
	MemoryBackend  BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case WebhookBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
