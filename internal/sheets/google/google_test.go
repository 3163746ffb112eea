package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"vatledger/internal/core"
	ports "vatledger/internal/sheets"
)

// fakeSheets serves the values endpoints of the Sheets API from memory.
func fakeSheets(t *testing.T, tabs map[string][][]interface{}) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodGet || !strings.Contains(r.URL.Path, "/values/") {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		rng := r.URL.Path[strings.Index(r.URL.Path, "/values/")+len("/values/"):]
		tab := rng
		if i := strings.Index(rng, "!"); i >= 0 {
			tab = rng[:i]
		}
		rows, ok := tabs[tab]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Unable to parse range"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": rows})
	}))
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return NewWithService(svc, Options{SpreadsheetID: "sheet-1"}, nil)
}

func TestClientListRecentAndTotals(t *testing.T) {
	c := fakeSheets(t, map[string][][]interface{}{
		"Spending": {
			{"s1", "01/05/2024", "taxi", 1000.0, "spent", "2024-05-01T08:00:00Z"},
			{"s2", "02/05/2024", "lunch", 2000.0, "claimed", "2024-05-02T08:00:00Z"},
		},
		"VAT Collected": {
			{"v1", "03/05/2024", 2500.0, "2024-05-03T08:00:00Z"},
		},
	})
	ctx := context.Background()

	l, err := c.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(l.Spending) != 2 || l.Spending[0].ID != "s2" || len(l.VATCollected) != 1 {
		t.Fatalf("unexpected ledger %+v", l)
	}
	if len(l.Receiving) != 0 {
		t.Fatalf("missing receiving tab should read as empty")
	}

	tot, err := c.OverallTotals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tot.Spending.String() != "3000" || tot.VATCollected.String() != "2500" || !tot.Remaining.IsZero() {
		t.Fatalf("unexpected totals %+v", tot)
	}

	r, _ := core.ParseDateRange("2024-05-02", "2024-05-31")
	l, err = c.ListRange(ctx, r)
	if err != nil || len(l.Spending) != 1 || l.Spending[0].ID != "s2" {
		t.Fatalf("unexpected range result %+v err=%v", l, err)
	}
}

func TestClientMissingTabIsConfigurationError(t *testing.T) {
	c := fakeSheets(t, map[string][][]interface{}{})
	_, err := c.ListRecent(context.Background(), 10)
	if !errors.Is(err, ports.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestClientFindRowNotFound(t *testing.T) {
	c := fakeSheets(t, map[string][][]interface{}{
		"Spending": {{"s1"}},
	})
	err := c.UpdateStatus(context.Background(), "nope", core.StatusClaimed)
	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	if _, err := New(context.Background(), Options{}, nil); err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	c := NewWithService(nil, Options{SpreadsheetID: "x"}, nil)
	_, err := c.Append(context.Background(), core.NewSpending("", "01/05/2024", core.NewMoney(0), "", ""))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

// rowSheet is a single Spending tab that applies row deletes and status
// writes. Reads are slowed down so concurrent lookups overlap.
type rowSheet struct {
	mu   sync.Mutex
	rows [][]interface{}
}

func (f *rowSheet) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = r[0].(string)
	}
	return out
}

func (f *rowSheet) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r[0] == id {
			return r[4].(string)
		}
	}
	return ""
}

func (f *rowSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		time.Sleep(20 * time.Millisecond)
		f.mu.Lock()
		rows := append([][]interface{}(nil), f.rows...)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"values": rows})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "!E")+2:]
		row, err := strconv.Atoi(rng)
		var vr gsheet.ValueRange
		if err == nil {
			err = json.NewDecoder(r.Body).Decode(&vr)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if err != nil || row < 2 || row-2 >= len(f.rows) || len(vr.Values) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.rows[row-2][4] = vr.Values[0][0]
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, q := range req.Requests {
			// Index 0 is the header row.
			start, end := int(q.DeleteDimension.Range.StartIndex)-1, int(q.DeleteDimension.Range.EndIndex)-1
			if start < 0 || end > len(f.rows) || start >= end {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.rows = append(f.rows[:start], f.rows[end:]...)
		}
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"sheets":[{"properties":{"sheetId":7,"title":"Spending"}}]}`))

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newRowSheetClient(t *testing.T, f *rowSheet) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("sheets service: %v", err)
	}
	return NewWithService(svc, Options{SpreadsheetID: "sheet-1"}, nil)
}

func TestClientConcurrentRowWrites(t *testing.T) {
	f := &rowSheet{rows: [][]interface{}{
		{"s1", "01/05/2024", "taxi", 1000.0, "spent", ""},
		{"s2", "02/05/2024", "lunch", 2000.0, "spent", ""},
		{"s3", "03/05/2024", "hotel", 3000.0, "spent", ""},
		{"s4", "04/05/2024", "train", 4000.0, "spent", ""},
	}}
	c := newRowSheetClient(t, f)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, id := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- c.Delete(ctx, id, core.Spending)
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.UpdateStatus(ctx, "s4", core.StatusClaimed)
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	if got := strings.Join(f.ids(), ","); got != "s3,s4" {
		t.Fatalf("rows left = %s, want s3,s4", got)
	}
	if got := f.status("s4"); got != string(core.StatusClaimed) {
		t.Fatalf("s4 status = %q, want claimed", got)
	}
	if got := f.status("s3"); got != string(core.StatusSpent) {
		t.Fatalf("s3 status = %q, want spent", got)
	}
}
