// Package services holds the tracker that drives the ledger screen: it
// loads and refreshes snapshots, applies optimistic mutations and reports
// every user action through a status banner.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vatledger/internal/amqp"
	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/log"
	"vatledger/internal/sheets"
)

// Store is the backend the tracker reads from and writes to.
type Store interface {
	sheets.EntryWriter
	sheets.EntryDeleter
	sheets.StatusUpdater
	sheets.LedgerReader
	sheets.TotalsReader
	sheets.MonthlyReader
	sheets.VATLister
}

// EventPublisher receives an event for every write the backend accepted.
type EventPublisher interface {
	Publish(ctx context.Context, ev *amqp.LedgerEvent) error
}

// BannerStatus is the state of a status banner.
type BannerStatus string

const (
	BannerIdle       BannerStatus = "idle"
	BannerSubmitting BannerStatus = "submitting"
	BannerSuccess    BannerStatus = "success"
	BannerError      BannerStatus = "error"
)

// Banner is a status message shown above a form or list.
type Banner struct {
	Status  BannerStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Options configures a Tracker. Zero values fall back to the defaults.
type Options struct {
	// RecentDays is the width of the recent window, ending today.
	RecentDays int
	// FilterDays is the width of the initial filter range.
	FilterDays int
	// RecentLimit caps the lists returned by Latest and RecentVAT.
	RecentLimit int
	Location    *time.Location
	Rollback    ledger.RollbackPolicy
	Events      EventPublisher
	Logger      *log.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.RecentDays <= 0 {
		o.RecentDays = 2
	}
	if o.FilterDays <= 0 {
		o.FilterDays = 7
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = 50
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Rollback == "" {
		o.Rollback = ledger.RollbackCreatesOnly
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Tracker owns the screen state. It is safe for concurrent use; the mutex
// is never held across backend calls.
type Tracker struct {
	store  Store
	events EventPublisher
	logger *log.Logger
	opts   Options

	recentSeq ledger.Sequencer
	filterSeq ledger.Sequencer
	totalsSeq ledger.Sequencer

	mu      sync.Mutex
	state   ledger.State
	total   core.Money
	overall core.OverallTotals
	loaded  bool
	submit  Banner
	vat     Banner
	logs    Banner
}

func NewTracker(store Store, opts Options) *Tracker {
	opts = opts.withDefaults()
	t := &Tracker{
		store:  store,
		events: opts.Events,
		logger: opts.Logger.WithComponent(log.ComponentTracker),
		opts:   opts,
		submit: Banner{Status: BannerIdle},
		vat:    Banner{Status: BannerIdle},
		logs:   Banner{Status: BannerIdle},
	}
	t.state = ledger.NewState(core.LastDays(t.today(), opts.FilterDays))
	return t
}

// View is a consistent copy of everything the screen renders.
type View struct {
	Active          ledger.View
	Mode            ledger.SelectionMode
	Range           core.DateRange
	Recent          core.Ledger
	Filtered        core.Ledger
	Selection       []ledger.EntryKey
	SelectionTotals ledger.Totals
	Pending         []ledger.StatusChange
	Total           core.Money
	Overall         core.OverallTotals
	Loaded          bool
	Submit          Banner
	VAT             Banner
	Log             Banner
}

func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	return View{
		Active:          s.View,
		Mode:            s.Mode,
		Range:           s.Range,
		Recent:          s.Recent.Clone(),
		Filtered:        s.Filtered.Clone(),
		Selection:       s.Selection.Keys(),
		SelectionTotals: s.SelectionTotals(),
		Pending:         s.Pending.Changes(),
		Total:           t.total,
		Overall:         t.overall,
		Loaded:          t.loaded,
		Submit:          t.submit,
		VAT:             t.vat,
		Log:             t.logs,
	}
}

// Load performs the initial fetch of totals and the recent window.
func (t *Tracker) Load(ctx context.Context) error {
	err := t.Refresh(ctx, true)
	t.mu.Lock()
	t.loaded = true
	t.mu.Unlock()
	return err
}

// Refresh fetches the totals and the list of the active view, or of the
// recent view when forceRecent is set, and applies them only if all three
// calls succeed. A failure keeps the previous snapshot and is logged, never
// shown in a banner.
func (t *Tracker) Refresh(ctx context.Context, forceRecent bool) error {
	t.mu.Lock()
	target, r := t.state.View, t.state.Range
	t.mu.Unlock()
	if forceRecent {
		target = ledger.ViewRecent
	}
	if target == ledger.ViewRecent {
		r = t.recentRange()
	}

	seq := t.sequencer(target)
	gen := seq.Next()
	totalsGen := t.totalsSeq.Next()

	var (
		total   core.Money
		overall core.OverallTotals
		list    core.Ledger
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = t.store.Total(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		overall, err = t.store.OverallTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		list, err = t.store.ListRange(gctx, r)
		return err
	})
	if err := g.Wait(); err != nil {
		t.logger.WarnContext(ctx, "Failed to refresh data",
			log.FieldOperation, log.OpRefresh,
			"view", string(target),
			log.FieldErrorType, ErrorType(err),
			log.FieldError, err.Error())
		return fmt.Errorf("refresh %s: %w", target, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalsSeq.Current(totalsGen) {
		t.total, t.overall = total, overall
	}
	if !seq.Current(gen) {
		t.logger.DebugContext(ctx, "Dropping stale list result", "view", string(target), log.FieldGeneration, gen)
		return nil
	}
	t.state = t.state.WithSnapshot(target, ledger.SortByDateDescending(list))
	return nil
}

// FetchRecent reloads the recent window on request and reports the outcome
// in the log banner.
func (t *Tracker) FetchRecent(ctx context.Context) error {
	return t.fetchList(ctx, ledger.ViewRecent, t.recentRange())
}

// FetchRange loads the entries dated between from and to into the filter
// view and makes it the active view. Both bounds accept dd/mm/yyyy or
// yyyy-mm-dd.
func (t *Tracker) FetchRange(ctx context.Context, from, to string) error {
	r, err := parseRange(from, to)
	if err != nil {
		t.setBanner(&t.logs, BannerError, UserMessage(err))
		return err
	}
	t.mu.Lock()
	t.state = t.state.WithRange(r).SwitchView(ledger.ViewFilter)
	t.mu.Unlock()
	return t.fetchList(ctx, ledger.ViewFilter, r)
}

func (t *Tracker) fetchList(ctx context.Context, v ledger.View, r core.DateRange) error {
	seq := t.sequencer(v)
	gen := seq.Next()
	t.setBanner(&t.logs, BannerSubmitting, "")

	l, err := t.store.ListRange(ctx, r)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to load entries",
			log.NewFields().WithOperation(log.OpList).WithRange(r.From.Wire(), r.To.Wire()).
				WithErrorType(ErrorType(err)).WithError(err).ToSlice()...)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// A newer fetch of the same view owns the list and the banner.
	if !seq.Current(gen) {
		t.logger.DebugContext(ctx, "Dropping stale list result", "view", string(v), log.FieldGeneration, gen)
		return err
	}
	if err != nil {
		t.logs = Banner{Status: BannerError, Message: UserMessage(err)}
		return err
	}
	t.state = t.state.WithSnapshot(v, ledger.SortByDateDescending(l))
	t.logs = Banner{Status: BannerSuccess, Message: "Data loaded."}
	return nil
}

func parseRange(from, to string) (core.DateRange, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return core.DateRange{}, invalid("Please select a date range to search.")
	}
	r, err := core.ParseDateRange(from, to)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, core.ErrInvalidRange):
		return core.DateRange{}, invalid("Start date must be less than or equal to end date.")
	}
	return core.DateRange{}, invalid("Please enter valid dates.")
}

// SwitchView changes the visible list. Selection and pending status changes
// are cleared.
func (t *Tracker) SwitchView(v ledger.View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.SwitchView(v)
}

func (t *Tracker) SetMode(m ledger.SelectionMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.SetMode(m)
}

func (t *Tracker) Toggle(k ledger.EntryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.Toggle(k)
}

func (t *Tracker) SelectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.SelectAll()
}

func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.ClearSelection()
}

// ProposeStatus stages a status change for a spending entry of the active
// list. It reports false when the entry is not shown.
func (t *Tracker) ProposeStatus(id string, next core.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state.ProposeStatus(id, next)
	t.state = s
	return ok
}

// DiscardPending drops every staged status change.
func (t *Tracker) DiscardPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = t.state.ClearPending()
}

// Months lists the months that have entries, newest first.
func (t *Tracker) Months(ctx context.Context) ([]core.MonthYear, error) {
	return t.store.AvailableMonths(ctx)
}

func (t *Tracker) MonthTotals(ctx context.Context, p core.MonthYear) (core.MonthlyTotals, error) {
	return t.store.MonthlyTotals(ctx, p)
}

// RecentVAT returns the latest VAT-collected entries, newest date first.
func (t *Tracker) RecentVAT(ctx context.Context) ([]core.Entry, error) {
	entries, err := t.store.ListVATCollected(ctx, t.opts.RecentLimit)
	if err != nil {
		return nil, err
	}
	l := ledger.SortByDateDescending(core.Ledger{VATCollected: entries})
	return l.VATCollected, nil
}

// Latest returns the most recently created entries of every category,
// capped at limit per category (RecentLimit when limit is not positive).
func (t *Tracker) Latest(ctx context.Context, limit int) (core.Ledger, error) {
	if limit <= 0 || limit > t.opts.RecentLimit {
		limit = t.opts.RecentLimit
	}
	l, err := t.store.ListRecent(ctx, limit)
	if err != nil {
		return core.Ledger{}, err
	}
	return ledger.SortByDateDescending(l), nil
}

func (t *Tracker) sequencer(v ledger.View) *ledger.Sequencer {
	if v == ledger.ViewFilter {
		return &t.filterSeq
	}
	return &t.recentSeq
}

func (t *Tracker) today() core.Date {
	return core.Today(t.opts.Now(), t.opts.Location)
}

func (t *Tracker) recentRange() core.DateRange {
	return core.LastDays(t.today(), t.opts.RecentDays)
}

func (t *Tracker) setBanner(b *Banner, status BannerStatus, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*b = Banner{Status: status, Message: msg}
}

func (t *Tracker) publish(ctx context.Context, evs ...*amqp.LedgerEvent) {
	if t.events == nil {
		return
	}
	for _, ev := range evs {
		if err := t.events.Publish(ctx, ev); err != nil {
			t.logger.WarnContext(ctx, "Failed to publish ledger event",
				log.FieldOperation, log.OpPublish,
				log.FieldEntryID, ev.EntryID,
				log.FieldError, err.Error())
		}
	}
}
