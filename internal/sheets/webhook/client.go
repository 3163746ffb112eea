// Package webhook talks to the spreadsheet web app that stores the ledger.
//
// Writes are POSTs whose body is JSON sent as text/plain, which the web app
// accepts without a CORS preflight. Reads are GETs selected by query flags.
// Every response is expected to be JSON; an HTML page means the web app is
// not deployed as expected and is reported as a configuration error.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vatledger/internal/cache"
	"vatledger/internal/core"
	"vatledger/internal/log"
	ports "vatledger/internal/sheets"
)

const (
	maxBodyBytes   = 4 << 20
	monthsCacheKey = "months"
)

// Ensure interface conformance
var (
	_ ports.EntryWriter   = (*Client)(nil)
	_ ports.EntryDeleter  = (*Client)(nil)
	_ ports.StatusUpdater = (*Client)(nil)
	_ ports.LedgerReader  = (*Client)(nil)
	_ ports.TotalsReader  = (*Client)(nil)
	_ ports.MonthlyReader = (*Client)(nil)
	_ ports.VATLister     = (*Client)(nil)
)

type Client struct {
	endpoint string
	http     *http.Client
	logger   *log.Logger
	months   *cache.LRUCache[[]core.MonthYear]
	monthly  *cache.LRUCache[core.MonthlyTotals]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.logger = l.WithComponent(log.ComponentWebhook) }
}

// WithCacheTTL sets how long monthly summaries are reused. Zero disables
// the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		if ttl <= 0 {
			cl.months, cl.monthly = nil, nil
			return
		}
		cl.months = cache.NewLRUCache[[]core.MonthYear](1, ttl)
		cl.monthly = cache.NewLRUCache[core.MonthlyTotals](36, ttl)
	}
}

// New creates a webhook client. An empty endpoint is accepted; every call
// then fails with ErrConfiguration.
func New(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		http:     newHTTPClientWithPooling(timeout),
		logger:   log.Discard(),
	}
	WithCacheTTL(5 * time.Minute)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caches exposes the response caches so a cache.Manager can sweep them.
func (c *Client) Caches() []cache.Cleaner {
	var out []cache.Cleaner
	if c.months != nil {
		out = append(out, c.months)
	}
	if c.monthly != nil {
		out = append(out, c.monthly)
	}
	return out
}

// newHTTPClientWithPooling creates an HTTP client with connection pooling,
// keep-alive and per-phase timeouts. The web app is a single host, so the
// per-host limits matter most.
func newHTTPClientWithPooling(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func (c *Client) Append(ctx context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	body, err := c.post(ctx, "create "+string(e.Category()), newCreateRequest(e))
	if err != nil {
		return "", err
	}
	c.invalidate()
	var resp writeResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &resp)
	}
	return string(resp.ID), nil
}

func (c *Client) Delete(ctx context.Context, id string, cat core.Category) error {
	if !cat.Valid() {
		return core.ErrInvalidCategory
	}
	_, err := c.post(ctx, "delete", actionRequest{Action: "delete", ID: id, Type: string(cat)})
	if err != nil {
		return err
	}
	c.invalidate()
	return nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, s core.Status) error {
	if !s.Valid() {
		return core.ErrInvalidStatus
	}
	_, err := c.post(ctx, "update status", actionRequest{Action: "updateStatus", ID: id, Type: string(core.Spending), Status: string(s)})
	if err != nil {
		return err
	}
	c.invalidate()
	return nil
}

func (c *Client) ListRecent(ctx context.Context, limit int) (core.Ledger, error) {
	var resp listResponse
	q := url.Values{"recent": {"true"}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "list recent", q, &resp); err != nil {
		return core.Ledger{}, err
	}
	return c.toLedger(ctx, resp), nil
}

func (c *Client) ListRange(ctx context.Context, r core.DateRange) (core.Ledger, error) {
	if err := r.Validate(); err != nil {
		return core.Ledger{}, err
	}
	var resp listResponse
	q := url.Values{"dateFrom": {r.From.Wire()}, "dateTo": {r.To.Wire()}}
	if err := c.get(ctx, "list range", q, &resp); err != nil {
		return core.Ledger{}, err
	}
	return c.toLedger(ctx, resp), nil
}

func (c *Client) ListVATCollected(ctx context.Context, limit int) ([]core.Entry, error) {
	var resp listResponse
	q := url.Values{"vatCollected": {"true"}, "limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "list vat collected", q, &resp); err != nil {
		return nil, err
	}
	return c.toLedger(ctx, resp).VATCollected, nil
}

func (c *Client) toLedger(ctx context.Context, resp listResponse) core.Ledger {
	if ids := resp.unreadableAmounts(); len(ids) > 0 {
		c.logger.WarnContext(ctx, "Unreadable amounts read as zero", log.FieldCount, len(ids), "ids", ids)
	}
	return resp.ledger()
}

func (c *Client) Total(ctx context.Context) (core.Money, error) {
	var resp totalResponse
	if err := c.get(ctx, "total", url.Values{"total": {"true"}}, &resp); err != nil {
		return core.Money{}, err
	}
	return resp.Total, nil
}

func (c *Client) OverallTotals(ctx context.Context) (core.OverallTotals, error) {
	var resp totalsResponse
	if err := c.get(ctx, "overall totals", url.Values{"overallTotals": {"true"}}, &resp); err != nil {
		return core.OverallTotals{}, err
	}
	return resp.overall(), nil
}

func (c *Client) AvailableMonths(ctx context.Context) ([]core.MonthYear, error) {
	if c.months != nil {
		if v, ok := c.months.Get(monthsCacheKey); ok {
			return v, nil
		}
	}
	var resp monthsResponse
	if err := c.get(ctx, "available months", url.Values{"availableMonths": {"true"}}, &resp); err != nil {
		return nil, err
	}
	out := make([]core.MonthYear, 0, len(resp.Months))
	for _, m := range resp.Months {
		p, err := core.ParseMonthYear(m)
		if err != nil {
			c.logger.WarnContext(ctx, "Skipping malformed month", log.FieldMonthYear, m, log.FieldError, err.Error())
			continue
		}
		out = append(out, p)
	}
	if c.months != nil {
		c.months.Set(monthsCacheKey, out)
	}
	return out, nil
}

func (c *Client) MonthlyTotals(ctx context.Context, p core.MonthYear) (core.MonthlyTotals, error) {
	key := p.String()
	if c.monthly != nil {
		if v, ok := c.monthly.Get(key); ok {
			return v, nil
		}
	}
	var resp monthlyResponse
	q := url.Values{"monthlyTotals": {"true"}, "monthYear": {key}}
	if err := c.get(ctx, "monthly totals", q, &resp); err != nil {
		return core.MonthlyTotals{}, err
	}
	ov := resp.overall()
	out := core.MonthlyTotals{Period: p, Spending: ov.Spending, VATCollected: ov.VATCollected, Remaining: ov.Remaining}
	if c.monthly != nil {
		c.monthly.Set(key, out)
	}
	return out, nil
}

func (c *Client) invalidate() {
	if c.months != nil {
		c.months.Purge()
	}
	if c.monthly != nil {
		c.monthly.Purge()
	}
}

func (c *Client) post(ctx context.Context, op string, payload any) ([]byte, error) {
	if c.endpoint == "" {
		return nil, missingEndpoint()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ports.ErrConfiguration, op, err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	return c.do(req, op, true)
}

func (c *Client) get(ctx context.Context, op string, q url.Values, out any) error {
	if c.endpoint == "" {
		return missingEndpoint()
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", ports.ErrConfiguration, err)
	}
	params := u.Query()
	for k, v := range q {
		params[k] = v
	}
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrConfiguration, op, err)
	}
	body, err := c.do(req, op, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrInvalidResponse, op, err)
	}
	return nil
}

// do sends req and classifies the reply. For writes a non-JSON, non-HTML
// body counts as success with an empty result; for reads it is an invalid
// response.
func (c *Client) do(req *http.Request, op string, write bool) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(req.Context(), "Webhook request failed",
			log.FieldOperation, op, log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeNetwork)
		return nil, &ports.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ports.RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.DebugContext(req.Context(), "Webhook request completed",
		log.FieldOperation, op,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	jsonBody := isJSON(resp.Header.Get("Content-Type"), body)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !jsonBody && isHTML(body) {
		return nil, fmt.Errorf("%w: %s: web app returned an HTML page, check the script deployment", ports.ErrConfiguration, op)
	}
	if !ok {
		return nil, &ports.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body, jsonBody, op)}
	}
	if !jsonBody {
		if write {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ports.ErrInvalidResponse, op)
	}
	var env envelope
	if err := unmarshalEnvelope(body, &env); err != nil {
		if write {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ports.ErrInvalidResponse, op, err)
	}
	if env.Error != "" {
		return nil, &ports.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: env.Error}
	}
	return body, nil
}

func missingEndpoint() error {
	return fmt.Errorf("%w: webhook URL (SHEET_WEBAPP_URL) is not set", ports.ErrConfiguration)
}

// isJSON trusts the content type, then falls back to a leading brace since
// the web app sometimes labels JSON as text.
func isJSON(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))
}

func isHTML(body []byte) bool {
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype"))
}

func unmarshalEnvelope(body []byte, env *envelope) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(trimmed, env)
}

func errorMessage(body []byte, jsonBody bool, op string) string {
	if jsonBody {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
			return env.Error
		}
		return op + " failed"
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return op + " failed"
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
