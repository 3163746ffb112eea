package backend

import (
	"context"
	"fmt"

	"vatledger/internal/amqp"
	"vatledger/internal/log"
	gsheet "vatledger/internal/sheets/google"
	"vatledger/internal/sheets/memory"
	"vatledger/internal/sheets/webhook"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case WebhookBackend:
		res = f.createWebhookBackend(config)
	case SheetsBackend:
		res, err = f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		res = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	res.Events = f.createPublisher(config)
	if res.Events != nil {
		res.Cleanup = res.Events.Close
	}
	return res, nil
}

func (f *DefaultFactory) createWebhookBackend(config Config) *BackendResult {
	cli := webhook.New(config.WebhookURL, config.RequestTimeout,
		webhook.WithLogger(f.logger),
		webhook.WithCacheTTL(config.CacheTTL))

	if config.WebhookURL == "" {
		f.logger.Warn("SHEET_WEBAPP_URL is not set, every backend call will report a configuration error")
	}
	f.logger.Info("Initialized webhook backend",
		"timeout", config.RequestTimeout.String(),
		"cache_ttl", config.CacheTTL.String())

	return &BackendResult{Backend: cli, Caches: cli.Caches()}
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SpendingSheet:   config.GoogleSpendingSheet,
		VATSheet:        config.GoogleVATSheet,
		ReceivingSheet:  config.GoogleReceivingSheet,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		OAuthClientJSON: config.GoogleOAuthClientJSON,
		OAuthClientFile: config.GoogleOAuthClientFile,
		OAuthTokenJSON:  config.GoogleOAuthTokenJSON,
		OAuthTokenFile:  config.GoogleOAuthTokenFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "spreadsheet_id", config.GoogleSpreadsheetID)
	return &BackendResult{Backend: cli}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) *BackendResult {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store := memory.NewFromFiles(dataDir)

	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return &BackendResult{Backend: store}
}

// createPublisher connects to the broker when one is configured. A broker
// that cannot be reached disables events instead of failing startup.
func (f *DefaultFactory) createPublisher(config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without ledger events", log.FieldError, err.Error())
		return nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}
