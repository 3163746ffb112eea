package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"vatledger/internal/amqp"
	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/log"
)

const (
	msgRequired      = "This field is required"
	msgPositive      = "Value must be greater than 0"
	msgPositiveVAT   = "Amount must be greater than 0."
	msgInvalidDate   = "Please enter a valid date"
	msgCheckFields   = "Please check the entered fields."
	msgNoValidItems  = "Please enter at least one valid spending item."
	msgFixVATItems   = "Please fix invalid VAT items."
	msgNothingChosen = "No records selected."
	msgNothingStaged = "No pending status changes."
)

// SpendingItem is one line of the spending form. Amount is user input
// ("50.000" is fifty thousand).
type SpendingItem struct {
	Description string
	Amount      string
	Status      string
}

// VATItem is one line of the VAT-collected form.
type VATItem struct {
	Date   string
	Amount string
}

// SubmitSpending validates every item, shows them at the top of the recent
// list right away and stores them concurrently. If any store call fails the
// optimistic entries are removed again and one error is reported for the
// whole batch.
func (t *Tracker) SubmitSpending(ctx context.Context, date string, items []SpendingItem) error {
	entries, err := t.spendingEntries(date, items)
	if err != nil {
		t.setBanner(&t.submit, BannerError, UserMessage(err))
		return err
	}
	t.setBanner(&t.submit, BannerSubmitting, "")

	if err := t.create(ctx, core.Spending, entries); err != nil {
		t.setBanner(&t.submit, BannerError, UserMessage(err))
		return err
	}

	t.SwitchView(ledger.ViewRecent)
	_ = t.Refresh(ctx, true)
	t.setBanner(&t.submit, BannerSuccess, fmt.Sprintf("Successfully saved %d item(s)!", len(entries)))
	return nil
}

func (t *Tracker) spendingEntries(date string, items []SpendingItem) ([]core.Entry, error) {
	d, err := core.ParseAnyDate(date)
	if err != nil {
		return nil, invalid(msgCheckFields, ItemError{Index: -1, Date: msgInvalidDate})
	}
	if len(items) == 0 {
		return nil, invalid(msgNoValidItems)
	}

	var (
		entries []core.Entry
		errs    []ItemError
	)
	for i, it := range items {
		ie := ItemError{Index: i}
		desc := strings.TrimSpace(it.Description)
		if desc == "" {
			ie.Description = msgRequired
		}
		amount, err := core.ParseAmount(it.Amount)
		if err != nil {
			ie.Amount = msgPositive
		}
		status, err := core.ParseStatus(it.Status)
		if err != nil {
			status = core.StatusSpent
		}
		if ie.Description != "" || ie.Amount != "" {
			errs = append(errs, ie)
			continue
		}
		e := core.NewSpending(ledger.NewTempID(), d.Display(), amount, desc, status)
		if err := e.Validate(); err != nil {
			ie.Description = UserMessage(err)
			errs = append(errs, ie)
			continue
		}
		entries = append(entries, e)
	}
	if len(errs) > 0 {
		return nil, invalid(msgCheckFields, errs...)
	}
	return entries, nil
}

// SubmitVAT stores VAT-collected items the same way SubmitSpending stores
// spending items. Each item carries its own date.
func (t *Tracker) SubmitVAT(ctx context.Context, items []VATItem) error {
	entries, err := vatEntries(items)
	if err != nil {
		t.setBanner(&t.vat, BannerError, UserMessage(err))
		return err
	}
	t.setBanner(&t.vat, BannerSubmitting, "")

	if err := t.create(ctx, core.VATCollected, entries); err != nil {
		t.setBanner(&t.vat, BannerError, UserMessage(err))
		return err
	}

	_ = t.Refresh(ctx, true)
	t.setBanner(&t.vat, BannerSuccess, "VAT collected record saved.")
	return nil
}

func vatEntries(items []VATItem) ([]core.Entry, error) {
	if len(items) == 0 {
		return nil, invalid(msgFixVATItems)
	}
	var (
		entries []core.Entry
		errs    []ItemError
	)
	for i, it := range items {
		ie := ItemError{Index: i}
		d, err := core.ParseAnyDate(it.Date)
		if err != nil {
			ie.Date = msgInvalidDate
		}
		amount, err := core.ParseAmount(it.Amount)
		if err != nil {
			ie.Amount = msgPositiveVAT
		}
		if ie.Date != "" || ie.Amount != "" {
			errs = append(errs, ie)
			continue
		}
		entries = append(entries, core.NewVATCollected(ledger.NewTempID(), d.Display(), amount))
	}
	if len(errs) > 0 {
		return nil, invalid(msgFixVATItems, errs...)
	}
	return entries, nil
}

// create applies entries optimistically to the recent snapshot, stores
// them concurrently and reverts them when the batch fails.
func (t *Tracker) create(ctx context.Context, c core.Category, entries []core.Entry) error {
	tempIDs := make([]string, len(entries))
	for i, e := range entries {
		tempIDs[i] = e.ID
	}

	t.mu.Lock()
	t.recentSeq.Next()
	t.state = t.state.WithSnapshot(ledger.ViewRecent, ledger.ApplyOptimisticCreate(t.state.Recent, entries, c))
	t.mu.Unlock()

	ids := make([]string, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			id, err := t.store.Append(ctx, e)
			if err != nil {
				return fmt.Errorf("save %s %q: %w", c, e.Description(), err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.mu.Lock()
		t.state = t.state.WithSnapshot(ledger.ViewRecent, ledger.RevertOptimisticCreate(t.state.Recent, tempIDs, c))
		t.mu.Unlock()
		t.logger.ErrorContext(ctx, "Failed to save entries",
			log.NewFields().WithOperation(log.OpCreate).WithCount(len(entries)).
				WithErrorType(ErrorType(err)).WithError(err).ToSlice()...)
		return err
	}

	evs := make([]*amqp.LedgerEvent, 0, len(entries))
	for i, e := range entries {
		t.logger.InfoContext(ctx, "Entry saved",
			log.NewFields().WithOperation(log.OpCreate).WithEntry(ids[i], string(c), e.Amount.String()).ToSlice()...)
		evs = append(evs, amqp.NewCreatedEvent(ids[i], e))
	}
	t.publish(ctx, evs...)
	return nil
}

// DeleteSelected deletes every selected entry of the active list.
func (t *Tracker) DeleteSelected(ctx context.Context) error {
	t.mu.Lock()
	keys := t.state.Selection.Keys()
	t.state = t.state.ClearSelection()
	t.mu.Unlock()
	if len(keys) == 0 {
		err := invalid(msgNothingChosen)
		t.setBanner(&t.logs, BannerError, err.Message)
		return err
	}
	return t.delete(ctx, keys)
}

// DeleteEntry deletes a single entry of the active list.
func (t *Tracker) DeleteEntry(ctx context.Context, k ledger.EntryKey) error {
	t.mu.Lock()
	t.state = t.state.ClearSelection()
	t.mu.Unlock()
	return t.delete(ctx, []ledger.EntryKey{k})
}

func (t *Tracker) delete(ctx context.Context, keys []ledger.EntryKey) error {
	t.mu.Lock()
	view := t.state.View
	t.sequencer(view).Next()
	snap := t.state.Active()
	var removed []core.Entry
	for _, k := range keys {
		var (
			e  core.Entry
			ok bool
		)
		if snap, e, ok = ledger.ApplyOptimisticDelete(snap, k.ID, k.Category); ok {
			removed = append(removed, e)
		}
	}
	t.state = t.state.WithSnapshot(view, snap)
	t.mu.Unlock()

	var g errgroup.Group
	for _, k := range keys {
		g.Go(func() error {
			if err := t.store.Delete(ctx, k.ID, k.Category); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if t.opts.Rollback.RevertsDeletes() {
			t.mu.Lock()
			snap := t.state.Snapshot(view)
			for _, e := range removed {
				snap = ledger.RestoreEntry(snap, e, e.Category())
			}
			t.state = t.state.WithSnapshot(view, ledger.SortByDateDescending(snap))
			t.mu.Unlock()
		}
		t.logger.ErrorContext(ctx, "Failed to delete entries",
			log.NewFields().WithOperation(log.OpDelete).WithCount(len(keys)).
				WithErrorType(ErrorType(err)).WithError(err).ToSlice()...)
		t.setBanner(&t.logs, BannerError, UserMessage(err))
		return err
	}

	evs := make([]*amqp.LedgerEvent, 0, len(keys))
	for _, k := range keys {
		evs = append(evs, amqp.NewDeletedEvent(k.ID, k.Category))
	}
	t.publish(ctx, evs...)
	_ = t.Refresh(ctx, false)
	t.setBanner(&t.logs, BannerSuccess, fmt.Sprintf("Deleted %d record(s).", len(keys)))
	return nil
}

// CommitStatusChanges sends every staged status change. The staged set is
// cleared as soon as the calls are dispatched, whatever their outcome.
func (t *Tracker) CommitStatusChanges(ctx context.Context) error {
	t.mu.Lock()
	changes := t.state.Pending.Changes()
	t.state = t.state.ClearPending()
	t.mu.Unlock()
	if len(changes) == 0 {
		err := invalid(msgNothingStaged)
		t.setBanner(&t.logs, BannerError, err.Message)
		return err
	}
	targets := make(map[string]core.Status, len(changes))
	for _, c := range changes {
		targets[c.EntryID] = c.To
	}
	return t.updateStatuses(ctx, targets)
}

// UpdateSelectedStatus moves every selected spending entry to s. Selected
// entries of other categories are ignored.
func (t *Tracker) UpdateSelectedStatus(ctx context.Context, s core.Status) error {
	if !s.Valid() {
		err := fmt.Errorf("%w: %q", core.ErrInvalidStatus, s)
		t.setBanner(&t.logs, BannerError, UserMessage(err))
		return err
	}
	t.mu.Lock()
	keys := t.state.Selection.Keys()
	t.state = t.state.ClearSelection()
	t.mu.Unlock()

	targets := map[string]core.Status{}
	for _, k := range keys {
		if k.Category == core.Spending {
			targets[k.ID] = s
		}
	}
	if len(targets) == 0 {
		err := invalid(msgNothingChosen)
		t.setBanner(&t.logs, BannerError, err.Message)
		return err
	}
	return t.updateStatuses(ctx, targets)
}

func (t *Tracker) updateStatuses(ctx context.Context, targets map[string]core.Status) error {
	t.mu.Lock()
	view := t.state.View
	t.sequencer(view).Next()
	snap := t.state.Active()
	previous := make(map[string]core.Status, len(targets))
	for id, s := range targets {
		var (
			prev core.Status
			ok   bool
		)
		if snap, prev, ok = ledger.ApplyStatusChange(snap, id, s); ok {
			previous[id] = prev
		}
	}
	t.state = t.state.WithSnapshot(view, snap)
	t.mu.Unlock()

	var g errgroup.Group
	for id, s := range targets {
		g.Go(func() error {
			if err := t.store.UpdateStatus(ctx, id, s); err != nil {
				return fmt.Errorf("update status of %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if t.opts.Rollback.RevertsDeletes() {
			t.mu.Lock()
			snap := t.state.Snapshot(view)
			for id, prev := range previous {
				snap, _, _ = ledger.ApplyStatusChange(snap, id, prev)
			}
			t.state = t.state.WithSnapshot(view, snap)
			t.mu.Unlock()
		}
		t.logger.ErrorContext(ctx, "Failed to update statuses",
			log.NewFields().WithOperation(log.OpUpdate).WithCount(len(targets)).
				WithErrorType(ErrorType(err)).WithError(err).ToSlice()...)
		t.setBanner(&t.logs, BannerError, UserMessage(err))
		return err
	}

	evs := make([]*amqp.LedgerEvent, 0, len(targets))
	for id, s := range targets {
		evs = append(evs, amqp.NewStatusEvent(id, previous[id], s))
	}
	t.publish(ctx, evs...)
	_ = t.Refresh(ctx, false)
	t.setBanner(&t.logs, BannerSuccess, fmt.Sprintf("Updated %d record(s).", len(targets)))
	return nil
}
