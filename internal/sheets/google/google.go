// Package google stores the ledger directly in a Google spreadsheet.
//
// Each category has its own tab. Rows start at line 2 below a header:
//
//	Spending:       ID | Date | Description | Amount | Status | CreatedAt
//	VAT Collected:  ID | Date | Amount | CreatedAt
//	Receiving:      ID | Date | Description | Amount | CreatedAt
//
// Dates are written as dd/mm/yyyy text, ids are random UUIDs.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"vatledger/internal/core"
	"vatledger/internal/log"
	ports "vatledger/internal/sheets"
)

// Options selects the spreadsheet, its tabs and the credentials.
type Options struct {
	SpreadsheetID  string
	SpendingSheet  string
	VATSheet       string
	ReceivingSheet string
	// CredentialsJSON takes precedence over CredentialsFile. When both are
	// empty GOOGLE_APPLICATION_CREDENTIALS is used.
	CredentialsJSON string
	CredentialsFile string
	// OAuth client and token, used when no service account is configured.
	// The JSON forms take precedence over the files.
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenJSON  string
	OAuthTokenFile  string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.SpendingSheet) == "" {
		o.SpendingSheet = "Spending"
	}
	if strings.TrimSpace(o.VATSheet) == "" {
		o.VATSheet = "VAT Collected"
	}
	if strings.TrimSpace(o.ReceivingSheet) == "" {
		o.ReceivingSheet = "Receiving"
	}
	return o
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheets        map[core.Category]string
	logger        *log.Logger
	now           func() time.Time

	mu       sync.Mutex
	sheetIDs map[string]int64
	rowLocks map[string]*sync.Mutex
}

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

// New creates a client authenticated with a service account.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, opts Options, logger *log.Logger) *Client {
	opts = opts.withDefaults()
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		sheets: map[core.Category]string{
			core.Spending:     opts.SpendingSheet,
			core.VATCollected: opts.VATSheet,
			core.Receiving:    opts.ReceivingSheet,
		},
		logger:   logger.WithComponent(log.ComponentSheets),
		now:      time.Now,
		sheetIDs: map[string]int64{},
		rowLocks: map[string]*sync.Mutex{},
	}
}

// newSheetsService initializes a Sheets service. Service account
// credentials take precedence; without them an OAuth client and a token
// saved by sheets-auth are used.
func newSheetsService(ctx context.Context, opts Options, logger *log.Logger) (*gsheet.Service, error) {
	if logger == nil {
		logger = log.Discard()
	}
	credsJSON := strings.TrimSpace(opts.CredentialsJSON)
	credsFile := strings.TrimSpace(opts.CredentialsFile)
	if credsJSON == "" && credsFile == "" {
		credsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var raw []byte
	switch {
	case credsJSON != "":
		raw = []byte(credsJSON)
	case credsFile != "":
		b, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		raw = b
	case opts.hasOAuthClient():
		return newOAuthService(ctx, opts, logger)
	default:
		return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, GOOGLE_APPLICATION_CREDENTIALS or an OAuth client)")
	}

	logger.InfoContext(ctx, "Creating Google Sheets service", "auth", "service_account", "credentials_size", len(raw))
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(raw),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func (c *Client) Append(ctx context.Context, e core.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	id := uuid.NewString()
	row := entryRow(id, e, c.now())
	sheet := c.sheets[e.Category()]
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:A", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", remote("append to "+sheet, err)
	}
	c.logger.InfoContext(ctx, "Row appended", log.FieldEntryID, id, log.FieldCategory, string(e.Category()))
	return id, nil
}

func (c *Client) Delete(ctx context.Context, id string, cat core.Category) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet, ok := c.sheets[cat]
	if !ok {
		return core.ErrInvalidCategory
	}
	unlock := c.lockRows(sheet)
	defer unlock()
	row, err := c.findRow(ctx, sheet, id)
	if err != nil {
		return err
	}
	sheetID, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		DeleteDimension: &gsheet.DeleteDimensionRequest{Range: &gsheet.DimensionRange{
			SheetId:    sheetID,
			Dimension:  "ROWS",
			StartIndex: int64(row - 1),
			EndIndex:   int64(row),
		}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return remote("delete row in "+sheet, err)
	}
	return nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, s core.Status) error {
	if !s.Valid() {
		return core.ErrInvalidStatus
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := c.sheets[core.Spending]
	unlock := c.lockRows(sheet)
	defer unlock()
	row, err := c.findRow(ctx, sheet, id)
	if err != nil {
		return err
	}
	rng := fmt.Sprintf("%s!E%d", sheet, row)
	vr := &gsheet.ValueRange{Values: [][]any{{string(s)}}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return remote("update "+rng, err)
	}
	return nil
}

func (c *Client) ListRecent(ctx context.Context, limit int) (core.Ledger, error) {
	recs, err := c.readAll(ctx)
	if err != nil {
		return core.Ledger{}, err
	}
	return recs.ledger(func(core.Entry) bool { return true }, limit), nil
}

func (c *Client) ListRange(ctx context.Context, r core.DateRange) (core.Ledger, error) {
	if err := r.Validate(); err != nil {
		return core.Ledger{}, err
	}
	recs, err := c.readAll(ctx)
	if err != nil {
		return core.Ledger{}, err
	}
	return recs.ledger(func(e core.Entry) bool {
		d, err := core.ParseAnyDate(e.Date)
		return err == nil && r.Contains(d)
	}, 0), nil
}

func (c *Client) ListVATCollected(ctx context.Context, limit int) ([]core.Entry, error) {
	rows, err := c.readRows(ctx, c.sheets[core.VATCollected], "D")
	if err != nil {
		return nil, err
	}
	recs := records{core.VATCollected: parseVATRows(rows)}
	return recs.ledger(func(core.Entry) bool { return true }, limit).VATCollected, nil
}

func (c *Client) Total(ctx context.Context) (core.Money, error) {
	t, err := c.OverallTotals(ctx)
	if err != nil {
		return core.Money{}, err
	}
	return t.Spending, nil
}

func (c *Client) OverallTotals(ctx context.Context) (core.OverallTotals, error) {
	recs, err := c.readAll(ctx)
	if err != nil {
		return core.OverallTotals{}, err
	}
	return core.SummarizeEntries(recs.ledger(func(core.Entry) bool { return true }, 0)), nil
}

func (c *Client) AvailableMonths(ctx context.Context) ([]core.MonthYear, error) {
	recs, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return core.AvailableMonths(recs.ledger(func(core.Entry) bool { return true }, 0)), nil
}

func (c *Client) MonthlyTotals(ctx context.Context, p core.MonthYear) (core.MonthlyTotals, error) {
	recs, err := c.readAll(ctx)
	if err != nil {
		return core.MonthlyTotals{}, err
	}
	return core.SummarizeMonth(recs.ledger(func(core.Entry) bool { return true }, 0), p), nil
}

// readAll reads the spending and VAT tabs. The receiving tab is optional:
// a read error there is logged and treated as empty.
func (c *Client) readAll(ctx context.Context) (records, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	spending, err := c.readRows(ctx, c.sheets[core.Spending], "F")
	if err != nil {
		return nil, err
	}
	vat, err := c.readRows(ctx, c.sheets[core.VATCollected], "D")
	if err != nil {
		return nil, err
	}
	out := records{
		core.Spending:     parseSpendingRows(spending),
		core.VATCollected: parseVATRows(vat),
	}
	receiving, err := c.readRows(ctx, c.sheets[core.Receiving], "E")
	if err != nil {
		c.logger.DebugContext(ctx, "Receiving tab not readable, skipping", log.FieldError, err.Error())
		return out, nil
	}
	out[core.Receiving] = parseReceivingRows(receiving)
	return out, nil
}

func (c *Client) readRows(ctx context.Context, sheet, lastCol string) ([][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A2:%s", sheet, lastCol)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, remote("read "+rng, err)
	}
	return resp.Values, nil
}

// lockRows serializes the writes to sheet that address a row by number.
// The lock is held from findRow until the write is done, since deleting a
// row shifts every row below it.
func (c *Client) lockRows(sheet string) func() {
	c.mu.Lock()
	l, ok := c.rowLocks[sheet]
	if !ok {
		l = &sync.Mutex{}
		c.rowLocks[sheet] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// findRow returns the 1-based sheet row holding id.
func (c *Client) findRow(ctx context.Context, sheet, id string) (int, error) {
	rows, err := c.readRows(ctx, sheet, "A")
	if err != nil {
		return 0, err
	}
	if i := indexOfID(rows, id); i >= 0 {
		return i + 2, nil
	}
	return 0, fmt.Errorf("%s in %s: %w", id, sheet, ports.ErrNotFound)
}

func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, remote("get spreadsheet", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}
	id, ok = c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("%w: sheet %q not found", ports.ErrConfiguration, title)
	}
	return id, nil
}

// remote wraps a Sheets API failure so callers can classify it. A 404 from
// the API means the spreadsheet or tab does not exist, which is a
// configuration problem.
func remote(op string, err error) error {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return &ports.RemoteError{Op: op, Err: err}
	}
	if ge.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %v", ports.ErrConfiguration, op, err)
	}
	return &ports.RemoteError{Op: op, StatusCode: ge.Code, Message: ge.Message, Err: err}
}
