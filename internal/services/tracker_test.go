package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vatledger/internal/amqp"
	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/sheets"
	"vatledger/internal/sheets/memory"
)

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// seedStore returns a store with ids 1..4:
// 1 spending 10/03 (recent), 2 spending 09/03 (recent),
// 3 VAT 10/03 (recent), 4 spending 01/02 (outside the recent window).
func seedStore() *memory.Store {
	return memory.New(
		core.NewSpending("", "10/03/2026", core.NewMoney(100000), "Coffee beans", core.StatusSpent),
		core.NewSpending("", "09/03/2026", core.NewMoney(50000), "Taxi", core.StatusRequested),
		core.NewVATCollected("", "10/03/2026", core.NewMoney(300000)),
		core.NewSpending("", "01/02/2026", core.NewMoney(70000), "Printer paper", core.StatusSpent),
	)
}

func newTestTracker(t *testing.T, store Store, opts Options) *Tracker {
	t.Helper()
	opts.Location = time.UTC
	opts.Now = func() time.Time { return fixedNow }
	tr := NewTracker(store, opts)
	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return tr
}

func ids(entries []core.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestTrackerLoad(t *testing.T) {
	tr := newTestTracker(t, seedStore(), Options{})
	v := tr.View()

	if !v.Loaded {
		t.Fatal("expected Loaded after Load")
	}
	if got := ids(v.Recent.Spending); strings.Join(got, ",") != "1,2" {
		t.Fatalf("recent spending = %v, want [1 2]", got)
	}
	if len(v.Recent.VATCollected) != 1 {
		t.Fatalf("recent VAT = %d entries, want 1", len(v.Recent.VATCollected))
	}
	if !v.Total.Equal(core.NewMoney(220000).Decimal) {
		t.Fatalf("total = %s, want 220000", v.Total)
	}
	if !v.Overall.Remaining.Equal(core.NewMoney(80000).Decimal) {
		t.Fatalf("remaining = %s, want 80000", v.Overall.Remaining)
	}
	if v.Mode != ledger.ModeTotals || len(v.Selection) != 3 {
		t.Fatalf("totals mode should select the whole recent list, got %d keys", len(v.Selection))
	}
	if !v.SelectionTotals.Remaining.Equal(core.NewMoney(150000).Decimal) {
		t.Fatalf("selection remaining = %s, want 150000", v.SelectionTotals.Remaining)
	}
}

func TestTrackerLoadFailureKeepsSnapshot(t *testing.T) {
	store := seedStore()
	tr := newTestTracker(t, store, Options{})

	store.InjectFault(func(op, _ string) error {
		if op == memory.OpTotals {
			return &sheets.RemoteError{Op: "totals", StatusCode: 500, Message: "boom"}
		}
		return nil
	})
	if err := tr.Refresh(context.Background(), true); err == nil {
		t.Fatal("expected refresh error")
	}
	v := tr.View()
	if len(v.Recent.Spending) != 2 {
		t.Fatalf("previous snapshot should survive a failed refresh, got %d", len(v.Recent.Spending))
	}
	if v.Log.Status != BannerIdle {
		t.Fatalf("refresh failures must not set a banner, got %+v", v.Log)
	}
}

func TestSubmitSpending(t *testing.T) {
	store := seedStore()
	pub := &recordingPublisher{}
	tr := newTestTracker(t, store, Options{Events: pub})

	err := tr.SubmitSpending(context.Background(), "2026-03-10", []SpendingItem{
		{Description: "Lunch", Amount: "120.000"},
		{Description: "Parking", Amount: "15.000", Status: "claimed"},
	})
	if err != nil {
		t.Fatalf("SubmitSpending() error = %v", err)
	}

	v := tr.View()
	if v.Submit.Status != BannerSuccess || v.Submit.Message != "Successfully saved 2 item(s)!" {
		t.Fatalf("unexpected banner %+v", v.Submit)
	}
	if len(v.Recent.Spending) != 4 {
		t.Fatalf("recent spending = %d entries, want 4", len(v.Recent.Spending))
	}
	for _, e := range v.Recent.Spending {
		if ledger.IsTempID(e.ID) {
			t.Fatalf("temporary id %s survived the refresh", e.ID)
		}
	}
	if store.Calls(memory.OpAppend) != 2 {
		t.Fatalf("append calls = %d, want 2", store.Calls(memory.OpAppend))
	}
	if got := pub.types(); len(got) != 2 || got[0] != amqp.EventCreated {
		t.Fatalf("events = %v", got)
	}
}

func TestSubmitSpendingValidation(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		items   []SpendingItem
		message string
		items0  ItemError
	}{
		{
			name:    "no items",
			date:    "10/03/2026",
			message: "Please enter at least one valid spending item.",
		},
		{
			name:    "bad date",
			date:    "31/02/2026",
			items:   []SpendingItem{{Description: "x", Amount: "1"}},
			message: "Please check the entered fields.",
			items0:  ItemError{Index: -1, Date: msgInvalidDate},
		},
		{
			name:    "missing description and zero amount",
			date:    "10/03/2026",
			items:   []SpendingItem{{Description: "ok", Amount: "1"}, {Description: " ", Amount: "0"}},
			message: "Please check the entered fields.",
			items0:  ItemError{Index: 1, Description: "This field is required", Amount: "Value must be greater than 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			tr := newTestTracker(t, store, Options{})

			err := tr.SubmitSpending(context.Background(), tt.date, tt.items)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Message != tt.message {
				t.Fatalf("message = %q, want %q", ve.Message, tt.message)
			}
			if tt.items0 != (ItemError{}) && (len(ve.Items) != 1 || ve.Items[0] != tt.items0) {
				t.Fatalf("items = %+v, want [%+v]", ve.Items, tt.items0)
			}
			if store.Calls(memory.OpAppend) != 0 {
				t.Fatal("invalid input must not reach the backend")
			}
			if b := tr.View().Submit; b.Status != BannerError || b.Message != tt.message {
				t.Fatalf("unexpected banner %+v", b)
			}
		})
	}
}

func TestSubmitSpendingRollsBackOnPartialFailure(t *testing.T) {
	store := seedStore()
	pub := &recordingPublisher{}
	tr := newTestTracker(t, store, Options{Events: pub})
	store.InjectFault(func(op, id string) error {
		if op == memory.OpAppend && id == "Parking" {
			return &sheets.RemoteError{Op: "append", StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})

	err := tr.SubmitSpending(context.Background(), "10/03/2026", []SpendingItem{
		{Description: "Lunch", Amount: "120.000"},
		{Description: "Parking", Amount: "15.000"},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	v := tr.View()
	if got := ids(v.Recent.Spending); strings.Join(got, ",") != "1,2" {
		t.Fatalf("optimistic entries should be reverted, got %v", got)
	}
	if v.Submit.Status != BannerError {
		t.Fatalf("unexpected banner %+v", v.Submit)
	}
	if len(pub.types()) != 0 {
		t.Fatal("failed batch must not publish events")
	}
}

func TestSubmitVAT(t *testing.T) {
	store := seedStore()
	tr := newTestTracker(t, store, Options{})

	if err := tr.SubmitVAT(context.Background(), []VATItem{{Date: "09/03/2026", Amount: "40.000"}}); err != nil {
		t.Fatalf("SubmitVAT() error = %v", err)
	}
	v := tr.View()
	if v.VAT.Message != "VAT collected record saved." {
		t.Fatalf("unexpected banner %+v", v.VAT)
	}
	if len(v.Recent.VATCollected) != 2 {
		t.Fatalf("recent VAT = %d, want 2", len(v.Recent.VATCollected))
	}
	if !v.Overall.VATCollected.Equal(core.NewMoney(340000).Decimal) {
		t.Fatalf("VAT collected = %s, want 340000", v.Overall.VATCollected)
	}

	err := tr.SubmitVAT(context.Background(), []VATItem{{Date: "09/03/2026", Amount: "-5"}})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Message != "Please fix invalid VAT items." {
		t.Fatalf("expected VAT validation error, got %v", err)
	}
	if ve.Items[0].Amount != "Amount must be greater than 0." {
		t.Fatalf("unexpected item error %+v", ve.Items[0])
	}
}

func TestFetchRange(t *testing.T) {
	tr := newTestTracker(t, seedStore(), Options{})
	ctx := context.Background()

	tests := []struct {
		from, to string
		message  string
	}{
		{"", "10/03/2026", "Please select a date range to search."},
		{"10/03/2026", "01/03/2026", "Start date must be less than or equal to end date."},
		{"nope", "01/03/2026", "Please enter valid dates."},
	}
	for _, tt := range tests {
		if err := tr.FetchRange(ctx, tt.from, tt.to); !IsValidation(err) {
			t.Fatalf("FetchRange(%q, %q) error = %v, want validation", tt.from, tt.to, err)
		}
		if b := tr.View().Log; b.Message != tt.message {
			t.Fatalf("banner = %q, want %q", b.Message, tt.message)
		}
	}

	if err := tr.FetchRange(ctx, "2026-02-01", "28/02/2026"); err != nil {
		t.Fatalf("FetchRange() error = %v", err)
	}
	v := tr.View()
	if v.Active != ledger.ViewFilter {
		t.Fatalf("active view = %s, want filter", v.Active)
	}
	if got := ids(v.Filtered.Spending); len(got) != 1 || got[0] != "4" {
		t.Fatalf("filtered spending = %v, want [4]", got)
	}
	if v.Log.Message != "Data loaded." {
		t.Fatalf("unexpected banner %+v", v.Log)
	}
}

// gatedStore holds the first ListRange call made after arm until release
// is closed, then answers it with err or the stored entries.
type gatedStore struct {
	*memory.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	err     error
}

func newGatedStore(err error) *gatedStore {
	return &gatedStore{
		Store:   seedStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
		err:     err,
	}
}

func (s *gatedStore) ListRange(ctx context.Context, r core.DateRange) (core.Ledger, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
		if s.err != nil {
			return core.Ledger{}, s.err
		}
	}
	return s.Store.ListRange(ctx, r)
}

func TestFetchRangeIgnoresStaleResults(t *testing.T) {
	listFault := func(op, _ string) error {
		if op == memory.OpList {
			return errors.New("connection reset")
		}
		return nil
	}
	tests := []struct {
		name       string
		staleErr   error
		freshFault memory.FaultFunc
		wantStatus BannerStatus
		wantMsg    string
		wantIDs    string
	}{
		{
			name:       "older failure lands after newer success",
			staleErr:   errors.New("timeout"),
			wantStatus: BannerSuccess,
			wantMsg:    "Data loaded.",
			wantIDs:    "1,2",
		},
		{
			name:       "older success lands after newer failure",
			freshFault: listFault,
			wantStatus: BannerError,
			wantIDs:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newGatedStore(tt.staleErr)
			tr := newTestTracker(t, store, Options{})
			ctx := context.Background()

			store.armed.Store(true)
			done := make(chan error, 1)
			go func() { done <- tr.FetchRange(ctx, "2026-02-01", "2026-02-28") }()
			<-store.entered

			store.InjectFault(tt.freshFault)
			freshErr := tr.FetchRange(ctx, "2026-03-01", "2026-03-10")
			if (freshErr != nil) != (tt.freshFault != nil) {
				t.Fatalf("newer FetchRange() error = %v", freshErr)
			}
			store.InjectFault(nil)

			close(store.release)
			if err := <-done; (err != nil) != (tt.staleErr != nil) {
				t.Fatalf("older FetchRange() error = %v", err)
			}

			v := tr.View()
			if v.Log.Status != tt.wantStatus {
				t.Fatalf("banner = %+v, want status %s", v.Log, tt.wantStatus)
			}
			if tt.wantMsg != "" && v.Log.Message != tt.wantMsg {
				t.Fatalf("banner message = %q, want %q", v.Log.Message, tt.wantMsg)
			}
			if got := strings.Join(ids(v.Filtered.Spending), ","); got != tt.wantIDs {
				t.Fatalf("filtered spending = %q, want %q", got, tt.wantIDs)
			}
		})
	}
}

func TestDeleteSelected(t *testing.T) {
	store := seedStore()
	pub := &recordingPublisher{}
	tr := newTestTracker(t, store, Options{Events: pub})
	ctx := context.Background()

	tr.SetMode(ledger.ModeDelete)
	if err := tr.DeleteSelected(ctx); !IsValidation(err) {
		t.Fatalf("empty selection should be refused, got %v", err)
	}

	tr.Toggle(ledger.EntryKey{Category: core.Spending, ID: "2"})
	tr.Toggle(ledger.EntryKey{Category: core.VATCollected, ID: "3"})
	if err := tr.DeleteSelected(ctx); err != nil {
		t.Fatalf("DeleteSelected() error = %v", err)
	}

	v := tr.View()
	if got := ids(v.Recent.Spending); len(got) != 1 || got[0] != "1" {
		t.Fatalf("recent spending = %v, want [1]", got)
	}
	if len(v.Recent.VATCollected) != 0 {
		t.Fatal("VAT entry should be gone")
	}
	if len(v.Selection) != 0 {
		t.Fatal("selection should be cleared")
	}
	if v.Log.Status != BannerSuccess {
		t.Fatalf("unexpected banner %+v", v.Log)
	}
	if got := pub.types(); len(got) != 2 || got[0] != amqp.EventDeleted {
		t.Fatalf("events = %v", got)
	}
}

func TestDeleteFailureRollback(t *testing.T) {
	tests := []struct {
		name     string
		policy   ledger.RollbackPolicy
		restored bool
	}{
		{"creates only", ledger.RollbackCreatesOnly, false},
		{"all", ledger.RollbackAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore()
			tr := newTestTracker(t, store, Options{Rollback: tt.policy})
			store.InjectFault(func(op, id string) error {
				if op == memory.OpDelete && id == "2" {
					return &sheets.RemoteError{Op: "delete", StatusCode: 500, Message: "Failed to delete record on server."}
				}
				return nil
			})

			err := tr.DeleteEntry(context.Background(), ledger.EntryKey{Category: core.Spending, ID: "2"})
			if err == nil {
				t.Fatal("expected error")
			}
			v := tr.View()
			_, found := v.Recent.Find(core.Spending, "2")
			if found != tt.restored {
				t.Fatalf("entry present = %v, want %v", found, tt.restored)
			}
			if v.Log.Status != BannerError {
				t.Fatalf("unexpected banner %+v", v.Log)
			}
		})
	}
}

func TestCommitStatusChanges(t *testing.T) {
	store := seedStore()
	pub := &recordingPublisher{}
	tr := newTestTracker(t, store, Options{Events: pub})
	ctx := context.Background()

	if tr.ProposeStatus("3", core.StatusClaimed) {
		t.Fatal("VAT entries have no status")
	}
	if !tr.ProposeStatus("1", core.StatusRequested) {
		t.Fatal("expected proposal to be accepted")
	}
	if got := tr.View().Pending; len(got) != 1 || got[0].From != core.StatusSpent {
		t.Fatalf("pending = %+v", got)
	}

	if err := tr.CommitStatusChanges(ctx); err != nil {
		t.Fatalf("CommitStatusChanges() error = %v", err)
	}
	v := tr.View()
	if len(v.Pending) != 0 {
		t.Fatal("pending changes should be cleared")
	}
	e, _ := v.Recent.Find(core.Spending, "1")
	if e.Status() != core.StatusRequested {
		t.Fatalf("status = %s, want requested", e.Status())
	}
	if got := pub.types(); len(got) != 1 || got[0] != amqp.EventStatusUpdated {
		t.Fatalf("events = %v", got)
	}

	if err := tr.CommitStatusChanges(ctx); !IsValidation(err) {
		t.Fatalf("committing nothing should be refused, got %v", err)
	}
}

func TestCommitStatusChangesFailureClearsPending(t *testing.T) {
	store := seedStore()
	tr := newTestTracker(t, store, Options{Rollback: ledger.RollbackAll})
	store.InjectFault(func(op, _ string) error {
		if op == memory.OpUpdateStatus {
			return errors.New("network down")
		}
		return nil
	})

	tr.ProposeStatus("2", core.StatusClaimed)
	if err := tr.CommitStatusChanges(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	v := tr.View()
	if len(v.Pending) != 0 {
		t.Fatal("pending changes are cleared once dispatched")
	}
	e, _ := v.Recent.Find(core.Spending, "2")
	if e.Status() != core.StatusRequested {
		t.Fatalf("status should be reverted to requested, got %s", e.Status())
	}
	if v.Log.Message != "Update status of 2: network down" {
		t.Fatalf("unexpected banner %+v", v.Log)
	}
}

func TestUpdateSelectedStatusSkipsOtherCategories(t *testing.T) {
	store := seedStore()
	tr := newTestTracker(t, store, Options{})
	ctx := context.Background()

	// totals mode selects every recent entry, including the VAT record
	if err := tr.UpdateSelectedStatus(ctx, core.StatusClaimed); err != nil {
		t.Fatalf("UpdateSelectedStatus() error = %v", err)
	}
	if n := store.Calls(memory.OpUpdateStatus); n != 2 {
		t.Fatalf("update calls = %d, want 2", n)
	}
	for _, e := range tr.View().Recent.Spending {
		if e.Status() != core.StatusClaimed {
			t.Fatalf("entry %s status = %s", e.ID, e.Status())
		}
	}

	if err := tr.UpdateSelectedStatus(ctx, core.Status("lost")); !errors.Is(err, core.ErrInvalidStatus) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestLatestAndRecentVAT(t *testing.T) {
	tr := newTestTracker(t, seedStore(), Options{RecentLimit: 1})
	ctx := context.Background()

	l, err := tr.Latest(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Spending) != 1 {
		t.Fatalf("limit should be capped at RecentLimit, got %d", len(l.Spending))
	}
	vat, err := tr.RecentVAT(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vat) != 1 || vat[0].ID != "3" {
		t.Fatalf("recent VAT = %v", ids(vat))
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", invalid("Please check the entered fields."), "Please check the entered fields."},
		{"configuration", sheets.ErrConfiguration, "The spreadsheet web app is not configured correctly. Check SHEET_WEBAPP_URL and the deployment access."},
		{"invalid response", sheets.ErrInvalidResponse, "Invalid response from server."},
		{"plain", errors.New("boom"), "Boom"},
		{"multibyte first letter", errors.New("đã hết hạn"), "Đã hết hạn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Fatalf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
