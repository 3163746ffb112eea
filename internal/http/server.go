package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/log"
	"vatledger/internal/middleware/ratelimit"
	"vatledger/internal/middleware/security"
	"vatledger/internal/middleware/trace"
	"vatledger/internal/services"
)

// LedgerService is the screen state the API exposes. *services.Tracker
// implements it.
type LedgerService interface {
	View() services.View
	Refresh(ctx context.Context, forceRecent bool) error
	FetchRecent(ctx context.Context) error
	FetchRange(ctx context.Context, from, to string) error

	SubmitSpending(ctx context.Context, date string, items []services.SpendingItem) error
	SubmitVAT(ctx context.Context, items []services.VATItem) error
	DeleteSelected(ctx context.Context) error
	DeleteEntry(ctx context.Context, k ledger.EntryKey) error
	CommitStatusChanges(ctx context.Context) error
	UpdateSelectedStatus(ctx context.Context, s core.Status) error

	SwitchView(v ledger.View)
	SetMode(m ledger.SelectionMode)
	Toggle(k ledger.EntryKey)
	SelectAll()
	ClearSelection()
	ProposeStatus(id string, next core.Status) bool
	DiscardPending()

	Months(ctx context.Context) ([]core.MonthYear, error)
	MonthTotals(ctx context.Context, p core.MonthYear) (core.MonthlyTotals, error)
	Latest(ctx context.Context, limit int) (core.Ledger, error)
	RecentVAT(ctx context.Context) ([]core.Entry, error)
}

var _ LedgerService = (*services.Tracker)(nil)

// Options configures the server. Zero values fall back to defaults.
type Options struct {
	Logger    *log.Logger
	RateLimit ratelimit.Config
	Headers   *security.HeadersConfig
	// RequestTimeout bounds each API call, backend round trips included.
	RequestTimeout time.Duration
	// CacheStats reports backend cache hits and misses for /metrics.
	CacheStats func() (hits, misses uint64)
}

type Server struct {
	http.Server
	svc            LedgerService
	logger         *log.Logger
	requestTimeout time.Duration

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	started  time.Time

	cacheStats func() (hits, misses uint64)

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Call Shutdown to stop it and its background goroutines.
func NewServer(addr string, svc LedgerService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	headers := security.DefaultHeadersConfig()
	if opts.Headers != nil {
		headers = *opts.Headers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		svc:            svc,
		logger:         logger.WithComponent(log.ComponentHTTP),
		requestTimeout: opts.RequestTimeout,
		limiter:        ratelimit.NewLimiter(opts.RateLimit),
		detector:       security.NewDetector(),
		started:        time.Now(),
		cacheStats:     opts.CacheStats,
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/spending", s.handleSubmitSpending)
	mux.HandleFunc("POST /api/vat", s.handleSubmitVAT)
	mux.HandleFunc("GET /api/vat", s.handleRecentVAT)
	mux.HandleFunc("GET /api/recent", s.handleLatest)
	mux.HandleFunc("POST /api/logs", s.handleFetchRange)
	mux.HandleFunc("POST /api/logs/recent", s.handleFetchRecent)
	mux.HandleFunc("POST /api/tab", s.handleTab)
	mux.HandleFunc("POST /api/selection/mode", s.handleMode)
	mux.HandleFunc("POST /api/selection", s.handleSelection)
	mux.HandleFunc("DELETE /api/selection", s.handleDeleteSelected)
	mux.HandleFunc("DELETE /api/entries/{key}", s.handleDeleteEntry)
	mux.HandleFunc("POST /api/status/propose", s.handleProposeStatus)
	mux.HandleFunc("DELETE /api/status/pending", s.handleDiscardPending)
	mux.HandleFunc("POST /api/status/commit", s.handleCommitStatus)
	mux.HandleFunc("POST /api/status/bulk", s.handleBulkStatus)
	mux.HandleFunc("GET /api/months", s.handleMonths)
	mux.HandleFunc("GET /api/months/{monthYear}", s.handleMonthTotals)

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)(h)
	h = security.Headers(headers)(h)
	h = s.detector.Middleware(h)
	h = s.tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      opts.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(),
		"Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
}
