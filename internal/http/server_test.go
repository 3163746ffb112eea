package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vatledger/internal/core"
	"vatledger/internal/middleware/ratelimit"
	"vatledger/internal/services"
	"vatledger/internal/sheets"
	"vatledger/internal/sheets/memory"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, load bool) (*Server, *memory.Store) {
	t.Helper()
	return newLimitedServer(t, load, ratelimit.Config{Requests: 1000})
}

func newLimitedServer(t *testing.T, load bool, rl ratelimit.Config) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New(
		core.NewSpending("", "10/03/2026", core.NewMoney(100000), "Coffee beans", core.StatusSpent),
		core.NewSpending("", "09/03/2026", core.NewMoney(1250000), "Monitor", core.StatusRequested),
		core.NewVATCollected("", "10/03/2026", core.NewMoney(300000)),
		core.NewSpending("", "01/02/2026", core.NewMoney(70000), "Printer paper", core.StatusSpent),
	)
	tr := services.NewTracker(store, services.Options{
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
	if load {
		if err := tr.Load(context.Background()); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	srv := NewServer(":0", tr, Options{RateLimit: rl})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, r)
	return rr
}

func decodeState(t *testing.T, rr *httptest.ResponseRecorder) stateDTO {
	t.Helper()
	var st stateDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v\n%s", err, rr.Body.String())
	}
	return st
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v\n%s", err, rr.Body.String())
	}
	return body
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, false)

	if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before load = %d, want 503", rr.Code)
	}

	srv, _ = newTestServer(t, true)
	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz after load = %d", rr.Code)
	}
	for _, h := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Request-ID"} {
		if rr.Header().Get(h) == "" {
			t.Fatalf("missing header %s", h)
		}
	}
}

func TestGetState(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	st := decodeState(t, rr)
	if st.Tab != "recent" || st.Mode != "totals" || !st.Loaded {
		t.Fatalf("unexpected state header %+v", st)
	}
	if len(st.Entries.Spending) != 2 {
		t.Fatalf("entries = %d, want 2", len(st.Entries.Spending))
	}
	first := st.Entries.Spending[0]
	if first.Key != "spending:1" || first.Date != "10/03/2026" || first.Status != core.StatusSpent {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if st.Entries.Spending[1].AmountText != "1.250.000" {
		t.Fatalf("amountText = %q", st.Entries.Spending[1].AmountText)
	}
	if st.Range.From != "03/03/2026" || st.Range.To != "10/03/2026" {
		t.Fatalf("default range = %+v", st.Range)
	}
	if !st.Overall.Remaining.IsZero() {
		t.Fatalf("remaining should floor at zero, got %s", st.Overall.Remaining)
	}
}

func TestSubmitSpendingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodPost, "/api/spending",
		`{"date":"2026-03-10","items":[{"description":"Lunch","amount":"120.000"},{"description":"Fuel","amount":45000,"status":"claimed"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	st := decodeState(t, rr)
	if st.Banners.Submit.Message != "Successfully saved 2 item(s)!" {
		t.Fatalf("banner = %+v", st.Banners.Submit)
	}
	if len(st.Entries.Spending) != 4 {
		t.Fatalf("entries = %d, want 4", len(st.Entries.Spending))
	}

	rr = do(t, srv, http.MethodPost, "/api/spending",
		`{"date":"10/03/2026","items":[{"description":"","amount":"0"}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	body := decodeError(t, rr)
	if body.Error != "Please check the entered fields." || body.ErrorType != "validation_error" {
		t.Fatalf("unexpected error body %+v", body)
	}
	if !strings.Contains(rr.Body.String(), `"description":"This field is required"`) {
		t.Fatalf("item errors missing: %s", rr.Body.String())
	}

	if rr := do(t, srv, http.MethodPost, "/api/spending", `{"date":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/spending", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rr.Code)
	}
}

func TestSubmitVATEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodPost, "/api/vat", `{"items":[{"date":"09/03/2026","amount":"40.000"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if st := decodeState(t, rr); st.Banners.VAT.Message != "VAT collected record saved." {
		t.Fatalf("banner = %+v", st.Banners.VAT)
	}

	rr = do(t, srv, http.MethodGet, "/api/vat", "")
	var vat []entryDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &vat); err != nil || len(vat) != 2 {
		t.Fatalf("recent VAT = %s", rr.Body.String())
	}
}

func TestFetchRangeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodPost, "/api/logs", `{"from":"10/03/2026","to":"01/03/2026"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	if body := decodeError(t, rr); body.Error != "Start date must be less than or equal to end date." {
		t.Fatalf("error = %q", body.Error)
	}

	rr = do(t, srv, http.MethodPost, "/api/logs", `{"from":"2026-02-01","to":"2026-02-28"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	st := decodeState(t, rr)
	if st.Tab != "filter" || len(st.Entries.Spending) != 1 || st.Entries.Spending[0].ID != "4" {
		t.Fatalf("unexpected filtered state %+v", st.Entries)
	}
	if st.Banners.Logs.Message != "Data loaded." {
		t.Fatalf("banner = %+v", st.Banners.Logs)
	}
}

func TestSelectionAndDelete(t *testing.T) {
	srv, store := newTestServer(t, true)

	steps := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodPost, "/api/selection/mode", `{"mode":"delete"}`, http.StatusOK},
		{http.MethodPost, "/api/selection", `{"action":"toggle","key":"spending:2"}`, http.StatusOK},
		{http.MethodPost, "/api/selection", `{"action":"toggle","key":"nocolon"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/selection", `{"action":"explode"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/selection/mode", `{"mode":"sideways"}`, http.StatusBadRequest},
	}
	for _, s := range steps {
		if rr := do(t, srv, s.method, s.target, s.body); rr.Code != s.want {
			t.Fatalf("%s %s %s: status = %d, want %d", s.method, s.target, s.body, rr.Code, s.want)
		}
	}

	rr := do(t, srv, http.MethodGet, "/api/state", "")
	if st := decodeState(t, rr); len(st.Selection) != 1 || st.Selection[0] != "spending:2" {
		t.Fatalf("selection = %v", st.Selection)
	}

	rr = do(t, srv, http.MethodDelete, "/api/selection", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rr.Code, rr.Body.String())
	}
	st := decodeState(t, rr)
	if len(st.Entries.Spending) != 1 || st.Banners.Logs.Status != services.BannerSuccess {
		t.Fatalf("unexpected state after delete %+v %+v", st.Entries.Spending, st.Banners.Logs)
	}
	if store.Calls(memory.OpDelete) != 1 {
		t.Fatalf("delete calls = %d", store.Calls(memory.OpDelete))
	}

	if rr := do(t, srv, http.MethodDelete, "/api/selection", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty selection status = %d, want 422", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/entries/vatCollected:3", ""); rr.Code != http.StatusOK {
		t.Fatalf("single delete status = %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/entries/vatCollected:3", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestStatusEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, true)

	if rr := do(t, srv, http.MethodPost, "/api/status/propose", `{"id":"99","status":"claimed"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d, want 404", rr.Code)
	}
	if rr := do(t, srv, http.MethodPost, "/api/status/propose", `{"id":"1","status":"lost"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad status = %d, want 422", rr.Code)
	}

	rr := do(t, srv, http.MethodPost, "/api/status/propose", `{"id":"1","status":"claimed"}`)
	st := decodeState(t, rr)
	if len(st.Pending) != 1 || st.Pending[0].From != core.StatusSpent || !st.Entries.Spending[0].Pending {
		t.Fatalf("pending = %+v", st.Pending)
	}

	rr = do(t, srv, http.MethodPost, "/api/status/commit", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", rr.Code, rr.Body.String())
	}
	st = decodeState(t, rr)
	if len(st.Pending) != 0 || st.Entries.Spending[0].Status != core.StatusClaimed {
		t.Fatalf("unexpected state after commit %+v", st.Entries.Spending[0])
	}

	rr = do(t, srv, http.MethodPost, "/api/status/bulk", `{"status":"Requested"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk status = %d: %s", rr.Code, rr.Body.String())
	}
	for _, e := range decodeState(t, rr).Entries.Spending {
		if e.Status != core.StatusRequested {
			t.Fatalf("entry %s status = %s", e.ID, e.Status)
		}
	}
}

func TestBackendErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		fault     error
		want      int
		wantError string
	}{
		{
			name:      "configuration",
			fault:     sheets.ErrConfiguration,
			want:      http.StatusBadGateway,
			wantError: "The spreadsheet web app is not configured correctly. Check SHEET_WEBAPP_URL and the deployment access.",
		},
		{
			name:  "remote",
			fault: &sheets.RemoteError{Op: "list", StatusCode: http.StatusServiceUnavailable, Message: "busy"},
			want:  http.StatusBadGateway,
		},
		{
			name:      "unknown",
			fault:     errors.New("disk on fire"),
			want:      http.StatusInternalServerError,
			wantError: "Internal server error.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newTestServer(t, true)
			store.InjectFault(func(op, _ string) error {
				if op == memory.OpList {
					return tt.fault
				}
				return nil
			})

			rr := do(t, srv, http.MethodPost, "/api/logs/recent", "")
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if body := decodeError(t, rr); tt.wantError != "" && body.Error != tt.wantError {
				t.Fatalf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestMonthsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodGet, "/api/months", "")
	var months []string
	if err := json.Unmarshal(rr.Body.Bytes(), &months); err != nil || len(months) != 2 || months[0] != "2026-03" {
		t.Fatalf("months = %s", rr.Body.String())
	}

	rr = do(t, srv, http.MethodGet, "/api/months/2026-03", "")
	var m monthlyDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.MonthYear != "2026-03" || !m.Spending.Equal(core.NewMoney(1350000).Decimal) {
		t.Fatalf("monthly = %+v", m)
	}

	if rr := do(t, srv, http.MethodGet, "/api/months/2026-13", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad month status = %d, want 422", rr.Code)
	}
}

func TestLatestEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rr := do(t, srv, http.MethodGet, "/api/recent?limit=1", "")
	var l ledgerDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &l); err != nil || len(l.Spending) != 1 {
		t.Fatalf("latest = %s", rr.Body.String())
	}
	if rr := do(t, srv, http.MethodGet, "/api/recent?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestRateLimitAndMetrics(t *testing.T) {
	limited, _ := newLimitedServer(t, true, ratelimit.Config{Requests: 1})

	if rr := do(t, limited, http.MethodPost, "/api/tab", `{"tab":"filter"}`); rr.Code != http.StatusOK {
		t.Fatalf("first POST = %d", rr.Code)
	}
	rr := do(t, limited, http.MethodPost, "/api/tab", `{"tab":"recent"}`)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("second POST = %d, Retry-After %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if rr := do(t, limited, http.MethodGet, "/api/state", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", rr.Code)
	}

	rr = do(t, limited, http.MethodGet, "/metrics", "")
	for _, want := range []string{"http_requests_total 4", "rate_limit_hits_total 1"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("metrics missing %q:\n%s", want, rr.Body.String())
		}
	}
	if strings.Contains(rr.Body.String(), "cache_hits_total") {
		t.Fatalf("cache metrics without a cache:\n%s", rr.Body.String())
	}
}

func TestMetricsReportCacheStats(t *testing.T) {
	srv, _ := newTestServer(t, false)
	srv.cacheStats = func() (uint64, uint64) { return 3, 1 }

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	for _, want := range []string{"cache_hits_total 3", "cache_misses_total 1"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("metrics missing %q:\n%s", want, rr.Body.String())
		}
	}
}
